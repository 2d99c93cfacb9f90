package functions

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/Digithought/quereus-sub003/value"
)

// like/glob/regexp back the compiler's OpLike/OpGlob/OpRegexp binary
// expressions (the sqlparser folds the LIKE/GLOB/REGEXP keywords into
// ast.BinaryExpr so they compile through OpFunction like any other
// two-argument call, rather than needing their own opcode).
func init() {
	defaultScalars = append(defaultScalars,
		Scalar{Name: "like", Args: 2, Deterministic: true, Apply: scalarLike},
		Scalar{Name: "glob", Args: 2, Deterministic: true, Apply: scalarGlob},
		Scalar{Name: "regexp", Args: 2, Deterministic: true, Apply: scalarRegexp},
	)
}

var patternCacheMu sync.Mutex
var patternCache = map[string]*regexp.Regexp{}

func compilePattern(key, goPattern string) (*regexp.Regexp, error) {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[key]; ok {
		return re, nil
	}
	re, err := regexp.Compile(goPattern)
	if err != nil {
		return nil, err
	}
	patternCache[key] = re
	return re, nil
}

// likeToRegexp translates a SQL LIKE pattern ('%' any run, '_' any one
// rune) into an anchored, case-insensitive Go regexp.
func likeToRegexp(pattern string) string {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return sb.String()
}

// globToRegexp translates a Unix-glob-style GLOB pattern ('*', '?',
// '[...]') into an anchored, case-sensitive Go regexp.
func globToRegexp(pattern string) string {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			sb.WriteString(pattern[i : j+1])
			i = j
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	return sb.String()
}

func scalarLike(ctx context.Context, args []value.Value) (value.Value, error) {
	x, pattern := args[0], args[1]
	if x.IsNull() || pattern.IsNull() {
		return value.Null, nil
	}
	re, err := compilePattern("like:"+pattern.String(), likeToRegexp(pattern.String()))
	if err != nil {
		return value.Bool(false), nil
	}
	return value.Bool(re.MatchString(x.String())), nil
}

func scalarGlob(ctx context.Context, args []value.Value) (value.Value, error) {
	x, pattern := args[0], args[1]
	if x.IsNull() || pattern.IsNull() {
		return value.Null, nil
	}
	re, err := compilePattern("glob:"+pattern.String(), globToRegexp(pattern.String()))
	if err != nil {
		return value.Bool(false), nil
	}
	return value.Bool(re.MatchString(x.String())), nil
}

func scalarRegexp(ctx context.Context, args []value.Value) (value.Value, error) {
	x, pattern := args[0], args[1]
	if x.IsNull() || pattern.IsNull() {
		return value.Null, nil
	}
	re, err := compilePattern("re:"+pattern.String(), pattern.String())
	if err != nil {
		return value.Bool(false), nil
	}
	return value.Bool(re.MatchString(x.String())), nil
}
