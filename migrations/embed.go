// Package migrations embeds the SQL migration files and registers them
// with the database package at init time. Importing this package for its
// side effects is enough to make db.Migrate() see the schema:
//
//	import _ "github.com/draycott/haven-core/migrations"
package migrations

import (
	"embed"

	"github.com/draycott/haven-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
