// Package migrations holds the journal schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
