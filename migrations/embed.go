// Package migrations embeds the history store's SQL migrations into the
// binary. Importing it for side effects registers them with the database
// package.
package migrations

import (
	"embed"

	"github.com/nerrad567/droidpanel-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
