package storage

// Backend types accepted in Config.Type.
const (
	Memory   = "memory"
	Badger   = "badger"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

type Config struct {
	Type string `env:"FEDMOB_STORAGE_TYPE" envDefault:"memory"`

	PostgresHost    string `env:"FEDMOB_POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"FEDMOB_POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"FEDMOB_POSTGRES_USER"    envDefault:"fedmob"`
	PostgresPass    string `env:"FEDMOB_POSTGRES_PASS"    envDefault:"fedmob"`
	PostgresDB      string `env:"FEDMOB_POSTGRES_DB"      envDefault:"fedmob"`
	PostgresSSLMode string `env:"FEDMOB_POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"FEDMOB_SQLITE_PATH" envDefault:"./fedmob.db"`

	BadgerPath string `env:"FEDMOB_BADGER_PATH" envDefault:"./data/badger"`
}
