package store

import "time"

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Now returns the current UTC time in the same format SQLite's
// datetime('now') produces, so Go-assigned and SQL-assigned timestamps
// sort consistently.
func Now() string {
	return timeNow().UTC().Format("2006-01-02 15:04:05")
}
