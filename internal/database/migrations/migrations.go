// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

// ChangeChannel is the NOTIFY channel used by the row change triggers.
const ChangeChannel = "ticketdesk_changes"

//go:embed *.sql
var Postgres embed.FS
