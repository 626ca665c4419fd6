//go:build purego

package usage

import (
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registered as "sqlite"
)

// sqlDriver is the database/sql driver name used to open the usage
// ledger when built with -tags purego, for targets that cannot link cgo.
const sqlDriver = "sqlite"
