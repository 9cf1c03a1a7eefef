// Package migrations embeds the loyalty-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
