// Package migrations embeds the goose migrations for the local store schema.
package migrations

import "embed"

// FS holds every *.sql migration, applied in version order.
//
//go:embed *.sql
var FS embed.FS
