// Package migrations embeds the SQLite schema so the binary can migrate its
// snapshot and audit database without the SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/relaybox/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
