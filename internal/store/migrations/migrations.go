// Package migrations embeds the additive SQL migrations for the local cache.
package migrations

import "embed"

// FS holds every *.up.sql file. There are no down migrations.
//
//go:embed *.sql
var FS embed.FS
