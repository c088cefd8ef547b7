// Package migrations embeds the warehouse DDL applied by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
