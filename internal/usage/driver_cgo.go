//go:build !purego

package usage

import (
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
)

// sqlDriver is the database/sql driver name used to open the usage
// ledger. The cgo driver is preferred for its maturity; build with
// -tags purego to link the pure-Go driver instead (see driver_purego.go).
const sqlDriver = "sqlite3"
