// Package migrations embeds the schema migrations for each supported database.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
