// Package migrations embeds the goose SQL migrations for both databases.
package migrations

import "embed"

// LocalFS holds the per-device store schema under local/.
//
//go:embed local/*.sql
var LocalFS embed.FS

// ServerFS holds the sync server schema under server/.
//
//go:embed server/*.sql
var ServerFS embed.FS
