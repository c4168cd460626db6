// Package migrations embeds the ingestion cache schema.
package migrations

import "embed"

// FS holds the numbered *.up.sql files.
//
//go:embed *.up.sql
var FS embed.FS
