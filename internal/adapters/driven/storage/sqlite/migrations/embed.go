// Package migrations embeds SQL migration files for the SQLite store.
// Each table lives in its own numbered migration so it can evolve on its own.
package migrations

import "embed"

// FS contains all SQL migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
