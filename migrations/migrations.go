// Package migrations embeds the SQL schema of the relational vote store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
