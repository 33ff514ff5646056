package compliance

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
)

var errReadOnly = errors.New("write in read-only transaction")

// InMemory implements Store with in-process maps. Update works on a copy of
// the whole state and swaps it in only when fn succeeds.
type InMemory struct {
	mu    sync.RWMutex
	state *memState
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{state: newMemState()}
}

func (m *InMemory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{state: m.state, readOnly: true})
}

func (m *InMemory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	m.state = next
	return nil
}

type memState struct {
	laws         map[string]Law
	themes       map[string]Theme
	requirements map[string]Requirement
	projects     map[string]Project
}

func newMemState() *memState {
	return &memState{
		laws:         make(map[string]Law),
		themes:       make(map[string]Theme),
		requirements: make(map[string]Requirement),
		projects:     make(map[string]Project),
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for id, l := range s.laws {
		l.ThemeIDs = slices.Clone(l.ThemeIDs)
		out.laws[id] = l
	}
	for id, t := range s.themes {
		out.themes[id] = t
	}
	for id, r := range s.requirements {
		r.LawIDs = slices.Clone(r.LawIDs)
		out.requirements[id] = r
	}
	for id, p := range s.projects {
		out.projects[id] = p.Clone()
	}
	return out
}

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// --- laws ---

func (t *memTx) InsertLaw(_ context.Context, law Law) error {
	if err := t.writable(); err != nil {
		return err
	}
	law.ThemeIDs = slices.Clone(law.ThemeIDs)
	t.state.laws[law.ID] = law
	return nil
}

func (t *memTx) UpdateLaw(_ context.Context, law Law) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.laws[law.ID]; !ok {
		return NotFound("law")
	}
	law.ThemeIDs = slices.Clone(law.ThemeIDs)
	t.state.laws[law.ID] = law
	return nil
}

func (t *memTx) GetLaw(_ context.Context, id string) (Law, error) {
	law, ok := t.state.laws[id]
	if !ok {
		return Law{}, NotFound("law")
	}
	law.ThemeIDs = sortedCopy(law.ThemeIDs)
	return law, nil
}

func (t *memTx) ListLaws(ctx context.Context) ([]Law, error) {
	out := make([]Law, 0, len(t.state.laws))
	for id := range t.state.laws {
		law, _ := t.GetLaw(ctx, id)
		out = append(out, law)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteLaw(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.laws[id]; !ok {
		return NotFound("law")
	}
	delete(t.state.laws, id)
	for rid, r := range t.state.requirements {
		r.LawIDs = without(r.LawIDs, id)
		t.state.requirements[rid] = r
	}
	for pid, p := range t.state.projects {
		for i := range p.Themes {
			for j := range p.Themes[i].Requirements {
				req := &p.Themes[i].Requirements[j]
				req.LawIDs = without(req.LawIDs, id)
			}
		}
		t.state.projects[pid] = p
	}
	return nil
}

func (t *memTx) MissingLawIDs(_ context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if _, ok := t.state.laws[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// --- themes ---

func (t *memTx) InsertTheme(_ context.Context, theme Theme) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, other := range t.state.themes {
		if other.Name == theme.Name {
			return Conflict("theme name already exists")
		}
	}
	theme.LawIDs, theme.RequirementIDs = nil, nil
	t.state.themes[theme.ID] = theme
	return nil
}

func (t *memTx) GetTheme(_ context.Context, id string) (Theme, error) {
	theme, ok := t.state.themes[id]
	if !ok {
		return Theme{}, NotFound("theme")
	}
	return t.derive(theme), nil
}

// derive scans the law and requirement collections for links to theme.
func (t *memTx) derive(theme Theme) Theme {
	theme.LawIDs = []string{}
	for _, law := range t.state.laws {
		if slices.Contains(law.ThemeIDs, theme.ID) {
			theme.LawIDs = append(theme.LawIDs, law.ID)
		}
	}
	sort.Strings(theme.LawIDs)
	theme.RequirementIDs = []string{}
	for _, r := range t.state.requirements {
		if r.ThemeID == theme.ID {
			theme.RequirementIDs = append(theme.RequirementIDs, r.ID)
		}
	}
	sort.Strings(theme.RequirementIDs)
	return theme
}

func (t *memTx) FindThemeByName(_ context.Context, name string) (Theme, error) {
	for _, theme := range t.state.themes {
		if theme.Name == name {
			return t.derive(theme), nil
		}
	}
	return Theme{}, NotFound("theme")
}

func (t *memTx) ListThemes(_ context.Context) ([]Theme, error) {
	out := make([]Theme, 0, len(t.state.themes))
	for _, theme := range t.state.themes {
		out = append(out, t.derive(theme))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) RenameTheme(_ context.Context, id, name string) error {
	if err := t.writable(); err != nil {
		return err
	}
	theme, ok := t.state.themes[id]
	if !ok {
		return NotFound("theme")
	}
	for _, other := range t.state.themes {
		if other.ID != id && other.Name == name {
			return Conflict("theme name already exists")
		}
	}
	theme.Name = name
	t.state.themes[id] = theme
	return nil
}

func (t *memTx) DeleteTheme(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.themes[id]; !ok {
		return NotFound("theme")
	}
	delete(t.state.themes, id)
	for rid, r := range t.state.requirements {
		if r.ThemeID == id {
			delete(t.state.requirements, rid)
		}
	}
	for lid, law := range t.state.laws {
		law.ThemeIDs = without(law.ThemeIDs, id)
		t.state.laws[lid] = law
	}
	for pid, p := range t.state.projects {
		for i := range p.Themes {
			if p.Themes[i].ThemeID == id {
				p.Themes[i].ThemeID = ""
			}
		}
		t.state.projects[pid] = p
	}
	return nil
}

func (t *memTx) MissingThemeIDs(_ context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if _, ok := t.state.themes[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// --- standalone requirements ---

func (t *memTx) InsertRequirement(_ context.Context, req Requirement) error {
	if err := t.writable(); err != nil {
		return err
	}
	req.LawIDs = slices.Clone(req.LawIDs)
	t.state.requirements[req.ID] = req
	return nil
}

func (t *memTx) GetRequirement(_ context.Context, id string) (Requirement, error) {
	req, ok := t.state.requirements[id]
	if !ok {
		return Requirement{}, NotFound("requirement")
	}
	req.LawIDs = t.liveLaws(req.LawIDs)
	return req, nil
}

func (t *memTx) liveLaws(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if _, ok := t.state.laws[id]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (t *memTx) ListRequirements(ctx context.Context, themeID string) ([]Requirement, error) {
	out := []Requirement{}
	for id, req := range t.state.requirements {
		if themeID != "" && req.ThemeID != themeID {
			continue
		}
		r, _ := t.GetRequirement(ctx, id)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateRequirement(_ context.Context, req Requirement) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.requirements[req.ID]; !ok {
		return NotFound("requirement")
	}
	req.LawIDs = slices.Clone(req.LawIDs)
	t.state.requirements[req.ID] = req
	return nil
}

func (t *memTx) DeleteRequirement(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.requirements[id]; !ok {
		return NotFound("requirement")
	}
	delete(t.state.requirements, id)
	return nil
}

// --- projects ---

func (t *memTx) InsertProject(_ context.Context, p Project) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, other := range t.state.projects {
		if other.Name == p.Name {
			return Conflict("project name already exists")
		}
	}
	t.state.projects[p.ID] = p.Clone()
	return nil
}

func (t *memTx) GetProject(_ context.Context, id string) (Project, error) {
	p, ok := t.state.projects[id]
	if !ok {
		return Project{}, NotFound("project")
	}
	out := p.Clone()
	out.normalize()
	return out, nil
}

func (t *memTx) ProjectIDByName(_ context.Context, name string) (string, error) {
	for _, p := range t.state.projects {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return "", NotFound("project")
}

func (t *memTx) ListProjects(ctx context.Context) ([]Project, error) {
	out := make([]Project, 0, len(t.state.projects))
	for id := range t.state.projects {
		p, _ := t.GetProject(ctx, id)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) ReplaceProject(_ context.Context, p Project) error {
	if err := t.writable(); err != nil {
		return err
	}
	prev, ok := t.state.projects[p.ID]
	if !ok {
		return NotFound("project")
	}
	for _, other := range t.state.projects {
		if other.ID != p.ID && other.Name == p.Name {
			return Conflict("project name already exists")
		}
	}
	p.CreatedAt = prev.CreatedAt
	t.state.projects[p.ID] = p.Clone()
	return nil
}

func (t *memTx) DeleteProject(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.projects[id]; !ok {
		return NotFound("project")
	}
	delete(t.state.projects, id)
	return nil
}

// --- helpers ---

func without(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id })
}

func sortedCopy(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}
