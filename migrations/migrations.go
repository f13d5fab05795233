// Package migrations embeds the schema for the postgres booking backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
