package migrations

import "embed"

// FS contains embedded SQLite migrations for pairing storage.
//
//go:embed *.sql
var FS embed.FS
