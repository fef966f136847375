// Package migrations embeds the goose migration set for the Postgres
// server_info table, the same //go:embed-a-directory pattern the teacher
// uses for static data (see internal/data's xml template loader).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
