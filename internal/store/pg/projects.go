package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ecolex.org/internal/compliance"
)

// Project aggregates are stored across theme_instances, requirement_instances,
// requirement_instance_laws and attachments. Writes replace the whole tree.

func (t *pgTx) InsertProject(ctx context.Context, p compliance.Project) error {
	_, err := t.exec(ctx, psql.Insert("projects").
		Columns("id", "name", "created_at").
		Values(p.ID, p.Name, p.CreatedAt))
	if err != nil {
		return mapErr(fmt.Errorf("insert project: %w", err), "project name already exists")
	}
	return t.insertThemes(ctx, p)
}

func (t *pgTx) ReplaceProject(ctx context.Context, p compliance.Project) error {
	res, err := t.exec(ctx, psql.Update("projects").Set("name", p.Name).Where(sq.Eq{"id": p.ID}))
	if err != nil {
		return mapErr(fmt.Errorf("update project: %w", err), "project name already exists")
	}
	if err := requireRow(res, "project"); err != nil {
		return err
	}
	if _, err := t.exec(ctx, psql.Delete("theme_instances").Where(sq.Eq{"project_id": p.ID})); err != nil {
		return fmt.Errorf("clear project themes: %w", err)
	}
	return t.insertThemes(ctx, p)
}

func (t *pgTx) insertThemes(ctx context.Context, p compliance.Project) error {
	if len(p.Themes) == 0 {
		return nil
	}
	themes := psql.Insert("theme_instances").Columns("id", "project_id", "theme_id", "name", "position")
	reqs := psql.Insert("requirement_instances").
		Columns("theme_instance_id", "id", "name", "status", "evidence", "expiry_date", "position")
	laws := psql.Insert("requirement_instance_laws").Columns("theme_instance_id", "requirement_id", "law_id")
	atts := psql.Insert("attachments").
		Columns("theme_instance_id", "requirement_id", "position", "name", "path", "uploaded_at")
	var nReqs, nLaws, nAtts int

	for i, ti := range p.Themes {
		themes = themes.Values(ti.ID, p.ID, nullIfEmpty(ti.ThemeID), ti.Name, i)
		for j, r := range ti.Requirements {
			reqs = reqs.Values(ti.ID, r.ID, r.Name, string(r.Status), r.Evidence, nullTime(r.ExpiryDate), j)
			nReqs++
			for _, lawID := range r.LawIDs {
				laws = laws.Values(ti.ID, r.ID, lawID)
				nLaws++
			}
			for k, a := range r.Attachments {
				atts = atts.Values(ti.ID, r.ID, k, a.Name, a.Path, a.UploadedAt)
				nAtts++
			}
		}
	}

	if _, err := t.exec(ctx, themes); err != nil {
		return mapErr(fmt.Errorf("insert theme instances: %w", err), "duplicate theme in project")
	}
	steps := []struct {
		n    int
		b    sq.InsertBuilder
		what string
	}{
		{nReqs, reqs, "requirement instances"},
		{nLaws, laws, "requirement instance laws"},
		{nAtts, atts, "attachments"},
	}
	for _, st := range steps {
		if st.n == 0 {
			continue
		}
		if _, err := t.exec(ctx, st.b); err != nil {
			return mapErr(fmt.Errorf("insert %s: %w", st.what, err), "duplicate requirement in theme")
		}
	}
	return nil
}

func (t *pgTx) GetProject(ctx context.Context, id string) (compliance.Project, error) {
	q := psql.Select("id", "name", "created_at").From("projects").Where(sq.Eq{"id": id})
	if t.write {
		q = q.Suffix("for update")
	}
	projects, err := t.loadProjects(ctx, q)
	if err != nil {
		return compliance.Project{}, err
	}
	if len(projects) == 0 {
		return compliance.Project{}, compliance.NotFound("project")
	}
	return projects[0], nil
}

func (t *pgTx) ListProjects(ctx context.Context) ([]compliance.Project, error) {
	return t.loadProjects(ctx, psql.Select("id", "name", "created_at").From("projects").
		OrderBy("created_at desc", "id desc"))
}

func (t *pgTx) ProjectIDByName(ctx context.Context, name string) (string, error) {
	rows, err := t.query(ctx, psql.Select("id").From("projects").Where(sq.Eq{"name": name}))
	if err != nil {
		return "", fmt.Errorf("find project: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", compliance.NotFound("project")
	}
	var pid string
	return pid, rows.Scan(&pid)
}

func (t *pgTx) DeleteProject(ctx context.Context, id string) error {
	res, err := t.exec(ctx, psql.Delete("projects").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res, "project")
}

// loadProjects runs q for the project rows and then fetches every child table
// once for the whole batch.
func (t *pgTx) loadProjects(ctx context.Context, q sq.SelectBuilder) ([]compliance.Project, error) {
	rows, err := t.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	out := []compliance.Project{}
	byID := map[string]int{}
	for rows.Next() {
		var p compliance.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		p.Themes = []compliance.ThemeInstance{}
		byID[p.ID] = len(out)
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}

	themeLoc := map[string][2]int{}
	err = t.each(ctx, psql.Select("id", "project_id", "coalesce(theme_id, '')", "name").
		From("theme_instances").
		Where(sq.Eq{"project_id": ids}).
		OrderBy("project_id", "position"),
		func(rows *sql.Rows) error {
			var ti compliance.ThemeInstance
			var pid string
			if err := rows.Scan(&ti.ID, &pid, &ti.ThemeID, &ti.Name); err != nil {
				return err
			}
			ti.Requirements = []compliance.RequirementInstance{}
			pi := byID[pid]
			themeLoc[ti.ID] = [2]int{pi, len(out[pi].Themes)}
			out[pi].Themes = append(out[pi].Themes, ti)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load theme instances: %w", err)
	}
	if len(themeLoc) == 0 {
		return out, nil
	}

	reqFor := func(tiID, reqID string) *compliance.RequirementInstance {
		loc, ok := themeLoc[tiID]
		if !ok {
			return nil
		}
		ti := &out[loc[0]].Themes[loc[1]]
		for i := range ti.Requirements {
			if ti.Requirements[i].ID == reqID {
				return &ti.Requirements[i]
			}
		}
		return nil
	}
	inProjects := sq.Expr("theme_instance_id in (select id from theme_instances where "+placeholders("project_id", len(ids))+")", anySlice(ids)...)

	err = t.each(ctx, psql.Select("theme_instance_id", "id", "name", "status", "evidence", "expiry_date").
		From("requirement_instances").
		Where(inProjects).
		OrderBy("theme_instance_id", "position"),
		func(rows *sql.Rows) error {
			var (
				r    compliance.RequirementInstance
				tiID string
				st   string
				exp  sql.NullTime
			)
			if err := rows.Scan(&tiID, &r.ID, &r.Name, &st, &r.Evidence, &exp); err != nil {
				return err
			}
			r.Status = compliance.Status(st)
			if exp.Valid {
				e := exp.Time.UTC()
				r.ExpiryDate = &e
			}
			r.Attachments = []compliance.Attachment{}
			r.LawIDs = []string{}
			loc, ok := themeLoc[tiID]
			if !ok {
				return nil
			}
			ti := &out[loc[0]].Themes[loc[1]]
			ti.Requirements = append(ti.Requirements, r)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load requirement instances: %w", err)
	}

	err = t.each(ctx, psql.Select("theme_instance_id", "requirement_id", "law_id").
		From("requirement_instance_laws").
		Where(inProjects).
		OrderBy("theme_instance_id", "requirement_id", "law_id"),
		func(rows *sql.Rows) error {
			var tiID, reqID, lawID string
			if err := rows.Scan(&tiID, &reqID, &lawID); err != nil {
				return err
			}
			if r := reqFor(tiID, reqID); r != nil {
				r.LawIDs = append(r.LawIDs, lawID)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load requirement laws: %w", err)
	}

	err = t.each(ctx, psql.Select("theme_instance_id", "requirement_id", "name", "path", "uploaded_at").
		From("attachments").
		Where(inProjects).
		OrderBy("theme_instance_id", "requirement_id", "position"),
		func(rows *sql.Rows) error {
			var (
				tiID, reqID string
				a           compliance.Attachment
			)
			if err := rows.Scan(&tiID, &reqID, &a.Name, &a.Path, &a.UploadedAt); err != nil {
				return err
			}
			a.UploadedAt = a.UploadedAt.UTC()
			if r := reqFor(tiID, reqID); r != nil {
				r.Attachments = append(r.Attachments, a)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	return out, nil
}

func (t *pgTx) each(ctx context.Context, q sq.Sqlizer, fn func(rows *sql.Rows) error) error {
	rows, err := t.query(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// placeholders renders "col in (?,?,...)" for squirrel expressions.
func placeholders(col string, n int) string {
	b := make([]byte, 0, len(col)+5+2*n)
	b = append(b, col...)
	b = append(b, " in ("...)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(append(b, ')'))
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
