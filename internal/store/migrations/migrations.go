// Package migrations embeds the forward-only SQL migrations for the
// local database. Applied by the store at open via goose.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
