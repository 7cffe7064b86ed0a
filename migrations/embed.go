// Package migrations embeds the SQL schema for the state store.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
