// Package sqlstore implements the key-value store on SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names registered by the imported database drivers.
const (
	SQLite   = "sqlite3"
	Postgres = "pgx"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrMigration    = errors.New("database migration error")
	ErrDriver       = errors.New("unsupported database driver")
)

var _ storage.Storage = (*Database)(nil)

type Database struct {
	db *sqlx.DB
}

type row struct {
	Key   string `db:"id"`
	Value []byte `db:"value"`
}

// NewDatabase connects with the given driver and applies pending migrations.
func NewDatabase(driver, dsn string) (*Database, error) {
	if driver != SQLite && driver != Postgres {
		return nil, fmt.Errorf("%w: %s", ErrDriver, driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	if driver == Postgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	d := &Database{db: db}
	if err := d.migrate(driver); err != nil {
		db.Close()

		return nil, err
	}

	return d, nil
}

// PostgresDSN builds a key/value connection string.
func PostgresDSN(host, port, user, pass, name, sslMode string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
}

func (d *Database) Create(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	q := d.db.Rebind(`INSERT INTO entries (id, value) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`)
	res, err := d.db.ExecContext(ctx, q, key, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if n == 0 {
		return pkgerrors.ErrEntityExists
	}

	return nil
}

func (d *Database) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	var value []byte
	q := d.db.Rebind(`SELECT value FROM entries WHERE id = ?`)
	if err := d.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return value, nil
}

func (d *Database) Update(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	q := d.db.Rebind(`UPDATE entries SET value = ? WHERE id = ?`)

	return d.execOne(ctx, q, value, key)
}

func (d *Database) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	q := d.db.Rebind(`INSERT INTO entries (id, value) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET value = excluded.value`)
	if _, err := d.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}

func (d *Database) List(ctx context.Context, prefix string, offset, limit uint64) ([]storage.Entry, uint64, error) {
	pattern := escapeLike(prefix) + "%"

	var total uint64
	q := d.db.Rebind(`SELECT COUNT(*) FROM entries WHERE id LIKE ? ESCAPE '\'`)
	if err := d.db.GetContext(ctx, &total, q, pattern); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if offset >= total {
		return []storage.Entry{}, total, nil
	}

	var rows []row
	q = d.db.Rebind(`SELECT id, value FROM entries WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT ? OFFSET ?`)
	if err := d.db.SelectContext(ctx, &rows, q, pattern, clamp(limit), clamp(offset)); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	entries := make([]storage.Entry, len(rows))
	for i, r := range rows {
		entries[i] = storage.Entry{Key: r.Key, Value: r.Value}
	}

	return entries, total, nil
}

func (d *Database) Delete(ctx context.Context, key string) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	q := d.db.Rebind(`DELETE FROM entries WHERE id = ?`)

	return d.execOne(ctx, q, key)
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) execOne(ctx context.Context, q string, args ...any) error {
	res, err := d.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound
	}

	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(s)
}

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}
