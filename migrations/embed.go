// Package migrations embeds the identity store schema into the binary.
//
// Import it for its side effect before calling database.DB.Migrate:
//
//	import _ "github.com/lw2bacnet/bridge/migrations"
package migrations

import (
	"embed"

	"github.com/lw2bacnet/bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
