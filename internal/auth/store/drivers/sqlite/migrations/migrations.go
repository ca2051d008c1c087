// Package migrations embeds the SQLite schema for the identity directory.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
