//go:build conformance && !conformance_cgo

package conformance

// modernc.org/sqlite is pure Go (no cgo), registering driver "sqlite" —
// the default oracle, matching FocuswithJustin-JuniperBible's
// "default: Pure Go SQLite" driver split.
import _ "modernc.org/sqlite"

const oracleDriverName = "sqlite"
