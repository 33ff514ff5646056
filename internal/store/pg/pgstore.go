package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ecolex.org/internal/compliance"
	"ecolex.org/internal/migrate"
)

const pgErrUniqueViolation = "23505"

//go:embed migrations/*.sql seeds/*.sql
var schema embed.FS

// Schema exposes the embedded migrations and seeds.
func Schema() fs.FS { return schema }

// NewMigrator returns a migration manager over the embedded schema.
func NewMigrator(db *sql.DB, opts ...migrate.Option) *migrate.Manager {
	return migrate.NewManager(db, schema, "migrations", "seeds", opts...)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements compliance.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ compliance.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string, maxOpen int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle, mainly for tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) View(ctx context.Context, fn func(tx compliance.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, false, fn)
}

func (s *Store) Update(ctx context.Context, fn func(tx compliance.Tx) error) error {
	return s.run(ctx, nil, true, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, write bool, fn func(tx compliance.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&pgTx{tx: tx, write: write}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err), "duplicate name")
	}
	return nil
}

type pgTx struct {
	tx    *sql.Tx
	write bool
}

func (t *pgTx) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *pgTx) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// --- laws ---

func (t *pgTx) InsertLaw(ctx context.Context, law compliance.Law) error {
	_, err := t.exec(ctx, psql.Insert("laws").
		Columns("id", "name", "link", "document_path", "created_at").
		Values(law.ID, law.Name, nullIfEmpty(law.Link), nullIfEmpty(law.DocumentPath), law.CreatedAt))
	if err != nil {
		return mapErr(fmt.Errorf("insert law: %w", err), "law already exists")
	}
	return t.replaceLawThemes(ctx, law.ID, law.ThemeIDs)
}

func (t *pgTx) UpdateLaw(ctx context.Context, law compliance.Law) error {
	res, err := t.exec(ctx, psql.Update("laws").
		Set("name", law.Name).
		Set("link", nullIfEmpty(law.Link)).
		Set("document_path", nullIfEmpty(law.DocumentPath)).
		Where(sq.Eq{"id": law.ID}))
	if err != nil {
		return fmt.Errorf("update law: %w", err)
	}
	if err := requireRow(res, "law"); err != nil {
		return err
	}
	return t.replaceLawThemes(ctx, law.ID, law.ThemeIDs)
}

func (t *pgTx) replaceLawThemes(ctx context.Context, lawID string, themeIDs []string) error {
	if _, err := t.exec(ctx, psql.Delete("law_themes").Where(sq.Eq{"law_id": lawID})); err != nil {
		return fmt.Errorf("clear law themes: %w", err)
	}
	if len(themeIDs) == 0 {
		return nil
	}
	ins := psql.Insert("law_themes").Columns("law_id", "theme_id")
	for _, id := range themeIDs {
		ins = ins.Values(lawID, id)
	}
	if _, err := t.exec(ctx, ins); err != nil {
		return fmt.Errorf("link law themes: %w", err)
	}
	return nil
}

var lawColumns = []string{
	"l.id", "l.name", "coalesce(l.link, '')", "coalesce(l.document_path, '')", "l.created_at",
	"(select coalesce(string_agg(lt.theme_id, ',' order by lt.theme_id), '') from law_themes lt where lt.law_id = l.id)",
}

func scanLaw(row interface{ Scan(...any) error }) (compliance.Law, error) {
	var (
		law    compliance.Law
		themes string
	)
	err := row.Scan(&law.ID, &law.Name, &law.Link, &law.DocumentPath, &law.CreatedAt, &themes)
	law.ThemeIDs = splitIDs(themes)
	return law, err
}

func (t *pgTx) GetLaw(ctx context.Context, id string) (compliance.Law, error) {
	rows, err := t.query(ctx, psql.Select(lawColumns...).From("laws l").Where(sq.Eq{"l.id": id}))
	if err != nil {
		return compliance.Law{}, fmt.Errorf("get law: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return compliance.Law{}, err
		}
		return compliance.Law{}, compliance.NotFound("law")
	}
	return scanLaw(rows)
}

func (t *pgTx) ListLaws(ctx context.Context) ([]compliance.Law, error) {
	rows, err := t.query(ctx, psql.Select(lawColumns...).From("laws l").OrderBy("l.id"))
	if err != nil {
		return nil, fmt.Errorf("list laws: %w", err)
	}
	defer rows.Close()
	out := []compliance.Law{}
	for rows.Next() {
		law, err := scanLaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, law)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteLaw(ctx context.Context, id string) error {
	res, err := t.exec(ctx, psql.Delete("laws").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete law: %w", err)
	}
	return requireRow(res, "law")
}

func (t *pgTx) MissingLawIDs(ctx context.Context, ids []string) ([]string, error) {
	return t.missing(ctx, "laws", ids)
}

func (t *pgTx) missing(ctx context.Context, table string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.query(ctx, psql.Select("id").From(table).Where(sq.Eq{"id": ids}))
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", table, err)
	}
	defer rows.Close()
	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// --- themes ---

var themeColumns = []string{
	"t.id", "t.name", "t.created_at",
	"(select coalesce(string_agg(lt.law_id, ',' order by lt.law_id), '') from law_themes lt where lt.theme_id = t.id)",
	"(select coalesce(string_agg(r.id, ',' order by r.id), '') from requirements r where r.theme_id = t.id)",
}

func scanTheme(row interface{ Scan(...any) error }) (compliance.Theme, error) {
	var (
		theme      compliance.Theme
		laws, reqs string
	)
	err := row.Scan(&theme.ID, &theme.Name, &theme.CreatedAt, &laws, &reqs)
	theme.LawIDs = splitIDs(laws)
	theme.RequirementIDs = splitIDs(reqs)
	return theme, err
}

func (t *pgTx) themeWhere(ctx context.Context, pred sq.Sqlizer) (compliance.Theme, error) {
	rows, err := t.query(ctx, psql.Select(themeColumns...).From("themes t").Where(pred))
	if err != nil {
		return compliance.Theme{}, fmt.Errorf("get theme: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return compliance.Theme{}, err
		}
		return compliance.Theme{}, compliance.NotFound("theme")
	}
	return scanTheme(rows)
}

func (t *pgTx) InsertTheme(ctx context.Context, theme compliance.Theme) error {
	_, err := t.exec(ctx, psql.Insert("themes").
		Columns("id", "name", "created_at").
		Values(theme.ID, theme.Name, theme.CreatedAt))
	if err != nil {
		return mapErr(fmt.Errorf("insert theme: %w", err), "theme name already exists")
	}
	return nil
}

func (t *pgTx) GetTheme(ctx context.Context, id string) (compliance.Theme, error) {
	return t.themeWhere(ctx, sq.Eq{"t.id": id})
}

func (t *pgTx) FindThemeByName(ctx context.Context, name string) (compliance.Theme, error) {
	return t.themeWhere(ctx, sq.Eq{"t.name": name})
}

func (t *pgTx) ListThemes(ctx context.Context) ([]compliance.Theme, error) {
	rows, err := t.query(ctx, psql.Select(themeColumns...).From("themes t").OrderBy("t.id"))
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()
	out := []compliance.Theme{}
	for rows.Next() {
		theme, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, theme)
	}
	return out, rows.Err()
}

func (t *pgTx) RenameTheme(ctx context.Context, id, name string) error {
	res, err := t.exec(ctx, psql.Update("themes").Set("name", name).Where(sq.Eq{"id": id}))
	if err != nil {
		return mapErr(fmt.Errorf("rename theme: %w", err), "theme name already exists")
	}
	return requireRow(res, "theme")
}

func (t *pgTx) DeleteTheme(ctx context.Context, id string) error {
	res, err := t.exec(ctx, psql.Delete("themes").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete theme: %w", err)
	}
	return requireRow(res, "theme")
}

func (t *pgTx) MissingThemeIDs(ctx context.Context, ids []string) ([]string, error) {
	return t.missing(ctx, "themes", ids)
}

// --- standalone requirements ---

var requirementColumns = []string{
	"r.id", "r.name", "r.theme_id", "r.created_at",
	"(select coalesce(string_agg(rl.law_id, ',' order by rl.law_id), '') from requirement_laws rl where rl.requirement_id = r.id)",
}

func scanRequirement(row interface{ Scan(...any) error }) (compliance.Requirement, error) {
	var (
		req  compliance.Requirement
		laws string
	)
	err := row.Scan(&req.ID, &req.Name, &req.ThemeID, &req.CreatedAt, &laws)
	req.LawIDs = splitIDs(laws)
	return req, err
}

func (t *pgTx) InsertRequirement(ctx context.Context, req compliance.Requirement) error {
	_, err := t.exec(ctx, psql.Insert("requirements").
		Columns("id", "name", "theme_id", "created_at").
		Values(req.ID, req.Name, req.ThemeID, req.CreatedAt))
	if err != nil {
		return mapErr(fmt.Errorf("insert requirement: %w", err), "requirement already exists")
	}
	return t.replaceRequirementLaws(ctx, req.ID, req.LawIDs)
}

func (t *pgTx) replaceRequirementLaws(ctx context.Context, reqID string, lawIDs []string) error {
	if _, err := t.exec(ctx, psql.Delete("requirement_laws").Where(sq.Eq{"requirement_id": reqID})); err != nil {
		return fmt.Errorf("clear requirement laws: %w", err)
	}
	if len(lawIDs) == 0 {
		return nil
	}
	ins := psql.Insert("requirement_laws").Columns("requirement_id", "law_id")
	for _, id := range lawIDs {
		ins = ins.Values(reqID, id)
	}
	if _, err := t.exec(ctx, ins); err != nil {
		return fmt.Errorf("link requirement laws: %w", err)
	}
	return nil
}

func (t *pgTx) GetRequirement(ctx context.Context, id string) (compliance.Requirement, error) {
	rows, err := t.query(ctx, psql.Select(requirementColumns...).From("requirements r").Where(sq.Eq{"r.id": id}))
	if err != nil {
		return compliance.Requirement{}, fmt.Errorf("get requirement: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return compliance.Requirement{}, err
		}
		return compliance.Requirement{}, compliance.NotFound("requirement")
	}
	return scanRequirement(rows)
}

func (t *pgTx) ListRequirements(ctx context.Context, themeID string) ([]compliance.Requirement, error) {
	q := psql.Select(requirementColumns...).From("requirements r").OrderBy("r.id")
	if themeID != "" {
		q = q.Where(sq.Eq{"r.theme_id": themeID})
	}
	rows, err := t.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()
	out := []compliance.Requirement{}
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateRequirement(ctx context.Context, req compliance.Requirement) error {
	res, err := t.exec(ctx, psql.Update("requirements").
		Set("name", req.Name).
		Set("theme_id", req.ThemeID).
		Where(sq.Eq{"id": req.ID}))
	if err != nil {
		return fmt.Errorf("update requirement: %w", err)
	}
	if err := requireRow(res, "requirement"); err != nil {
		return err
	}
	return t.replaceRequirementLaws(ctx, req.ID, req.LawIDs)
}

func (t *pgTx) DeleteRequirement(ctx context.Context, id string) error {
	res, err := t.exec(ctx, psql.Delete("requirements").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete requirement: %w", err)
	}
	return requireRow(res, "requirement")
}

// --- helpers ---

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return compliance.NotFound(entity)
	}
	return nil
}

// mapErr turns a unique violation into a compliance conflict.
func mapErr(err error, conflictMsg string) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return compliance.Conflict(conflictMsg)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func splitIDs(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}
