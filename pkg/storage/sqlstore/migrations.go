package sqlstore

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

func migrations(driver string) *migrate.MemoryMigrationSource {
	valueType := "BLOB"
	if driver == Postgres {
		valueType = "BYTEA"
	}

	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_entries",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entries (
						id    VARCHAR(255) PRIMARY KEY,
						value %s NOT NULL
					)`, valueType),
				},
				Down: []string{
					`DROP TABLE IF EXISTS entries`,
				},
			},
		},
	}
}

func (d *Database) migrate(driver string) error {
	dialect := "sqlite3"
	if driver == Postgres {
		dialect = "postgres"
	}

	if _, err := migrate.Exec(d.db.DB, dialect, migrations(driver), migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
