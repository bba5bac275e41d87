package database

import (
	"net/url"
	"strconv"
	"strings"
)

// buildConnectionString generates a modernc SQLite DSN from options.
// Every pragma is passed as a _pragma parameter so it applies to each pooled connection.
func (opts *SQLiteOptions) buildConnectionString() string {
	params := url.Values{}

	// busy_timeout first so the remaining pragmas wait on a locked database
	if opts.BusyTimeout > 0 {
		params.Add("_pragma", "busy_timeout("+strconv.Itoa(opts.BusyTimeout)+")")
	}
	if opts.Journal != "" {
		params.Add("_pragma", "journal_mode("+string(opts.Journal)+")")
	}
	if opts.ForeignKeys {
		params.Add("_pragma", "foreign_keys(1)")
	}
	if opts.CacheSize != 0 {
		params.Add("_pragma", "cache_size("+strconv.Itoa(opts.CacheSize)+")")
	}
	if opts.Synchronous != "" {
		params.Add("_pragma", "synchronous("+string(opts.Synchronous)+")")
	}
	if opts.LockingMode != "" {
		params.Add("_pragma", "locking_mode("+string(opts.LockingMode)+")")
	}
	if opts.TxLock != "" {
		params.Set("_txlock", opts.TxLock)
	}
	if opts.Mode != "" {
		params.Set("mode", opts.Mode)
	}

	connStr := opts.Path
	if !strings.HasPrefix(connStr, "file:") {
		connStr = "file:" + connStr
	}
	if encoded := params.Encode(); encoded != "" {
		connStr += "?" + encoded
	}
	return connStr
}
