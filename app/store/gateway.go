package store

import (
	"context"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// supported database/sql driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DefaultPoolSize is the pool capacity used when Params.PoolSize is not set
const DefaultPoolSize = 32

// sqlitePragmas applied to every pooled sqlite connection. Immediate transactions take the write
// lock on BEGIN, so concurrent units of work wait on busy_timeout instead of failing on lock upgrade.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// Repeater retries a function, used for the initial connectivity check only
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Params defines a single logical database and its pool
type Params struct {
	Name     string // logical name, used in logs and errors
	Driver   string // DriverSQLite or DriverPostgres
	DSN      string // file path for sqlite, connection string for postgres
	PoolSize int
	Connect  Repeater // optional, retries the initial ping
}

// Schema is a set of DDL statements per driver
type Schema map[string][]string

// Gateway owns a bounded connection pool for one logical database
type Gateway struct {
	db     *sqlx.DB
	name   string
	driver string
}

// Open makes a pool for the given database and verifies connectivity
func Open(ctx context.Context, p Params) (*Gateway, error) {
	if p.Name == "" {
		p.Name = "db"
	}
	dsn := p.DSN
	poolSize := p.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	switch p.Driver {
	case DriverSQLite, "":
		p.Driver = DriverSQLite
		if strings.Contains(dsn, ":memory:") {
			poolSize = 1 // each in-memory connection is a separate database
		}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%s: unsupported driver %q", p.Name, p.Driver)
	}

	db, err := sqlx.Open(p.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", p.Name, err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	ping := func() error { return db.PingContext(ctx) }
	if p.Connect != nil {
		err = p.Connect.Do(ctx, ping)
	} else {
		err = ping()
	}
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%s: failed to connect: %w (also failed to close db: %v)", p.Name, err, closeErr)
		}
		return nil, fmt.Errorf("%s: failed to connect: %w", p.Name, err)
	}

	log.Printf("[INFO] %s database opened, driver %s, pool size %d", p.Name, p.Driver, poolSize)
	return &Gateway{db: db, name: p.Name, driver: p.Driver}, nil
}

// Do runs op as a single unit of work. The transaction is committed if op returns nil and
// rolled back otherwise. Errors classified by this package are returned as is, anything else
// is wrapped into *StorageError. A panic inside op rolls back and propagates.
func (g *Gateway) Do(ctx context.Context, op func(tx *sqlx.Tx) error) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: g.name + ": begin", Err: err}
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[WARN] %s: rollback failed, %v", g.name, rbErr)
		}
	}()

	if err := op(tx); err != nil {
		if isDomain(err) {
			return err
		}
		return &StorageError{Op: g.name, Err: err}
	}

	committed = true
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: g.name + ": commit", Err: err}
	}
	return nil
}

// Migrate applies the schema statements for the gateway's driver in one unit of work
func (g *Gateway) Migrate(ctx context.Context, schema Schema) error {
	queries, ok := schema[g.driver]
	if !ok {
		return fmt.Errorf("%s: no schema for driver %q", g.name, g.driver)
	}
	return g.Do(ctx, func(tx *sqlx.Tx) error {
		for _, q := range queries {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
		}
		return nil
	})
}

// Ping checks pool connectivity
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return &StorageError{Op: g.name + ": ping", Err: err}
	}
	return nil
}

// Name returns the logical database name
func (g *Gateway) Name() string { return g.name }

// Driver returns the database/sql driver name
func (g *Gateway) Driver() string { return g.driver }

// Close closes the pool
func (g *Gateway) Close() error {
	return g.db.Close()
}

// sqliteDSN appends connection pragmas unless the caller already set them
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}
