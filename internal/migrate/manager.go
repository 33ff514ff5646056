package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Manager executes SQL migrations and seed files read from an fs.FS, usually
// the schema embedded in the pg store or os.DirFS for an override directory.
type Manager struct {
	db              *sql.DB
	fsys            fs.FS
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
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

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithClock overrides the applied_at timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. migrationsDir and seedsDir are paths
// inside fsys; an empty seedsDir disables seeding.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		fsys:            fsys,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.migrationsTable, m.migrationsDir, ".up.sql", "migration")
}

// Seed applies seed files idempotently and returns their names.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.seedsTable, m.seedsDir, ".sql", "seed")
}

func (m *Manager) apply(ctx context.Context, table, dir, suffix, kind string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.fsys, dir, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, f := range files {
		if executed[f.Base] {
			continue
		}
		if err := m.exec(ctx, f.Path, table, f.Base); err != nil {
			return applied, fmt.Errorf("apply %s %s: %w", kind, f.Base, err)
		}
		applied = append(applied, f.Base)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := executed[len(executed)-1]
	downPath := path.Join(m.migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if _, err := fs.Stat(m.fsys, downPath); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, downPath, "", ""); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return "", err
	}
	return last, nil
}

// MigrationStatus reports one migration file and whether it was applied.
type MigrationStatus struct {
	Name    string
	Applied bool
}

// Status lists every migration file in order with its applied flag.
func (m *Manager) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.fsys, m.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		out = append(out, MigrationStatus{Name: f.Base, Applied: executed[f.Base]})
	}
	return out, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// exec runs every statement of file and, when table is set, records name in
// the same transaction.
func (m *Manager) exec(ctx context.Context, file, table, name string) error {
	sqlBytes, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
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
	if table != "" {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
			name, m.now()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
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

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(fsys fs.FS, dir, suffix string) ([]sqlFile, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: d.Name(), Path: p})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Base < files[j].Base
	})
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// skips "--" line comments.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString, inComment bool
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case r == '\'':
			current.WriteRune(r)
			inString = !inString
		case r == ';' && !inString:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
