package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

type DatabaseConfig struct {
	Driver      string
	DSN         string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c DatabaseConfig) driver() (driverName, dsn string, d dialect, err error) {
	if c.UseInMemory {
		return "sqlite", ":memory:", dialectSQLite, nil
	}

	switch c.Driver {
	case "", "sqlite":
		if c.DSN == "" {
			return "", "", 0, errors.New("sqlite DSN is empty")
		}
		if strings.HasPrefix(c.DSN, "libsql://") || strings.HasPrefix(c.DSN, "wss://") {
			return "libsql", c.DSN, dialectSQLite, nil
		}
		return "sqlite", c.DSN, dialectSQLite, nil
	case "libsql":
		return "libsql", c.DSN, dialectSQLite, nil
	case "postgres":
		if c.DSN != "" {
			return "postgres", c.DSN, dialectPostgres, nil
		}
		connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
		return "postgres", connStr, dialectPostgres, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

type column struct {
	table      string
	name       string
	definition string
}

func openDB(ctx context.Context, config DatabaseConfig, schema string, additive []column, logger *zap.Logger) (*sql.DB, dialect, error) {
	driverName, dsn, d, err := config.driver()
	if err != nil {
		return nil, 0, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("error opening database: %w", err)
	}
	if d == dialectSQLite {
		// one connection keeps :memory: databases alive and serialises writers
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initializeSchema(ctx, db, d, schema); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("error initializing database schema: %w", err)
	}

	for _, col := range additive {
		added, err := ensureColumn(ctx, db, d, col)
		if err != nil {
			db.Close()
			return nil, 0, fmt.Errorf("error migrating %s.%s: %w", col.table, col.name, err)
		}
		if added {
			logger.Info("Added missing column",
				zap.String("table", col.table),
				zap.String("column", col.name))
		}
	}

	logger.Info("Database ready",
		zap.String("driver", driverName),
		zap.String("schema", schema))

	return db, d, nil
}

func initializeSchema(ctx context.Context, db *sql.DB, d dialect, schema string) error {
	path := fmt.Sprintf("migrations/%s/%s.sql", d, schema)
	migrationSQL, err := migrations.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	for _, stmt := range strings.Split(string(migrationSQL), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error executing migrations: %w", err)
		}
	}
	return nil
}

func ensureColumn(ctx context.Context, db *sql.DB, d dialect, col column) (bool, error) {
	query := `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	if d == dialectPostgres {
		query = `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`
	}

	var count int
	if err := db.QueryRowContext(ctx, query, col.table, col.name).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.name, col.definition)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return false, err
	}
	return true, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func rebind(d dialect, query string) string {
	if d != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) (constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint, pqErr.Code == "23505"
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return msg, true
	}
	return "", false
}

type rowScanner interface {
	Scan(dest ...any) error
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// timeValue scans DATETIME columns that drivers may return as text.
type timeValue struct {
	t *time.Time
}

func (v timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		*v.t = time.Time{}
		return nil
	case time.Time:
		*v.t = x
		return nil
	case int64:
		*v.t = time.Unix(x, 0).UTC()
		return nil
	case []byte:
		return v.parse(string(x))
	case string:
		return v.parse(x)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (v timeValue) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*v.t = t
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
