// Package migrations embeds the retained-memory schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/garge-node/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
