package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"spendly.app/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	// Arbitrary key shared by every process migrating this schema.
	defaultLockKey int64 = 0x5e55_1017
)

// ErrNoMigrations is returned by Down when nothing has been applied.
var ErrNoMigrations = errors.New("migrate: no migrations applied")

// Manager applies *.up.sql / *.down.sql pairs from an fs.FS.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
	lockKey         int64
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithLockKey overrides the advisory lock key taken around Up and Down.
func WithLockKey(key int64) Option {
	return func(m *Manager) { m.lockKey = key }
}

// NewManager constructs a Manager reading migrations from files.
func NewManager(db *sql.DB, files fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           files,
		migrationsTable: defaultMigrationsTable,
		lockKey:         defaultLockKey,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		executed, err := m.listExecuted(ctx, conn)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.files, ".up.sql")
		if err != nil {
			return err
		}
		for _, name := range files {
			if executed[name] {
				continue
			}
			if err := m.apply(ctx, conn, name, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.migrationsTable),
					name, m.now().UTC())
				return err
			}); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			obs.Info("migrate.applied", map[string]any{"name": name})
			applied = append(applied, name)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		executed, err := m.history(ctx, conn)
		if err != nil {
			return err
		}
		if len(executed) == 0 {
			return ErrNoMigrations
		}
		last = executed[len(executed)-1]
		down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(m.files, down); err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		err = m.apply(ctx, conn, down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
			return err
		})
		if err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		obs.Info("migrate.rolled_back", map[string]any{"name": last})
		return nil
	})
	return last, err
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := m.ensureTable(ctx, conn); err != nil {
		return nil, err
	}
	return m.history(ctx, conn)
}

// locked runs fn on a single connection holding the advisory lock.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, m.lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, m.lockKey)
	}()

	if err := m.ensureTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (m *Manager) ensureTable(ctx context.Context, conn *sql.Conn) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, m.migrationsTable)
	_, err := conn.ExecContext(ctx, ddl)
	return err
}

// apply runs the statements of name and the bookkeeping step in one transaction.
func (m *Manager) apply(ctx context.Context, conn *sql.Conn, name string, record func(*sql.Tx) error) error {
	sqlBytes, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	names, err := m.history(ctx, conn)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, n := range names {
		result[n] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(files fs.FS, suffix string) ([]string, error) {
	if files == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements naively splits SQL by semicolon while preserving simple cases.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
