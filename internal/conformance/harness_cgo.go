//go:build conformance_cgo

package conformance

// mattn/go-sqlite3 is the teacher's own direct dependency, cgo-based —
// the optional oracle, matching FocuswithJustin-JuniperBible's
// "optional: CGO SQLite" driver split. This is the only place that
// dependency survives the transformation: nowhere in the engine itself
// binds to SQLite's C API.
import _ "github.com/mattn/go-sqlite3"

const oracleDriverName = "sqlite3"
