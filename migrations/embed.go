// Package migrations embeds the account and activity schema into the binary.
package migrations

import "embed"

// FS holds the *.up.sql files applied by database.Migrate.
//
//go:embed *.sql
var FS embed.FS
