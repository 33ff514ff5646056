package compliance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecolex.org/internal/stream"
)

type memBlobs struct {
	mu    sync.Mutex
	seq   int
	files map[string][]byte
	fail  bool
}

func newMemBlobs() *memBlobs { return &memBlobs{files: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, category, name string, r io.Reader) (string, error) {
	if b.fail {
		return "", errors.New("disk full")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	path := fmt.Sprintf("uploads/%s/%d-%s", category, b.seq, name)
	b.files[path] = data
	return path, nil
}

func (b *memBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
	return nil
}

func (b *memBlobs) URL(_ context.Context, path string) (string, error) {
	return "http://files.test/" + path, nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) Publish(evt stream.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T, opts ...Option) (*Service, *memBlobs, *clock) {
	t.Helper()
	blobs := newMemBlobs()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	all := append([]Option{WithBlobs(blobs), WithClock(clk.now)}, opts...)
	return NewService(NewInMemory(), all...), blobs, clk
}

func upload(name, body string) Upload {
	return Upload{Name: name, Content: strings.NewReader(body)}
}

func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
}

func TestCreateLawRequiresValidThemes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateLaw(ctx, LawInput{Name: "LGPD"})
	requireKind(t, err, ErrValidation)

	_, err = svc.CreateLaw(ctx, LawInput{Name: "LGPD", ThemeIDs: []string{"nope", "missing"}})
	requireKind(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "missing")

	theme, err := svc.CreateTheme(ctx, "Segurança")
	require.NoError(t, err)
	law, err := svc.CreateLaw(ctx, LawInput{Name: "LGPD", Link: "https://planalto.gov.br", ThemeIDs: []string{theme.ID, " " + theme.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{theme.ID}, law.ThemeIDs)

	got, err := svc.GetTheme(ctx, theme.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{law.ID}, got.LawIDs)
}

func TestCreateLawWithDocument(t *testing.T) {
	svc, blobs, _ := newTestService(t)
	ctx := context.Background()
	theme, err := svc.CreateTheme(ctx, "Ambiental")
	require.NoError(t, err)

	law, err := svc.CreateLaw(ctx, LawInput{Name: "PNRS", ThemeIDs: []string{theme.ID}, Document: &Upload{Name: "lei.pdf", Content: strings.NewReader("%PDF")}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(law.DocumentPath, "uploads/leis/"))
	assert.Equal(t, 1, blobs.count())

	_, err = svc.CreateLaw(ctx, LawInput{Name: "bad", ThemeIDs: []string{"x"}, Document: &Upload{Name: "x.pdf", Content: strings.NewReader("x")}})
	requireKind(t, err, ErrValidation)
	assert.Equal(t, 1, blobs.count(), "failed create must not leave its document behind")

	updated, err := svc.UpdateLaw(ctx, law.ID, LawPatch{Document: &Upload{Name: "v2.pdf", Content: strings.NewReader("%PDF-2")}})
	require.NoError(t, err)
	assert.NotEqual(t, law.DocumentPath, updated.DocumentPath)
	assert.Equal(t, 1, blobs.count())
}

func TestUpdateLawReplacesThemes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.CreateTheme(ctx, "A")
	b, _ := svc.CreateTheme(ctx, "B")
	law, err := svc.CreateLaw(ctx, LawInput{Name: "L", ThemeIDs: []string{a.ID}})
	require.NoError(t, err)

	_, err = svc.UpdateLaw(ctx, law.ID, LawPatch{ThemeIDs: []string{b.ID, "ghost"}})
	requireKind(t, err, ErrValidation)
	still, _ := svc.GetLaw(ctx, law.ID)
	assert.Equal(t, []string{a.ID}, still.ThemeIDs)

	name := "Lei nova"
	updated, err := svc.UpdateLaw(ctx, law.ID, LawPatch{Name: &name, ThemeIDs: []string{b.ID}})
	require.NoError(t, err)
	assert.Equal(t, "Lei nova", updated.Name)
	assert.Equal(t, []string{b.ID}, updated.ThemeIDs)

	unlinked, err := svc.ListUnlinkedThemes(ctx)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.Equal(t, a.ID, unlinked[0].ID)

	_, err = svc.UpdateLaw(ctx, "missing", LawPatch{Name: &name})
	requireKind(t, err, ErrNotFound)
}

func TestDeleteLawUnlinksButKeepsOthers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	theme, _ := svc.CreateTheme(ctx, "T")
	law, _ := svc.CreateLaw(ctx, LawInput{Name: "L", ThemeIDs: []string{theme.ID}})
	req, err := svc.CreateRequirement(ctx, RequirementInput{Name: "R", ThemeID: theme.ID, LawIDs: []string{law.ID}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLaw(ctx, law.ID))
	requireKind(t, svc.DeleteLaw(ctx, law.ID), ErrNotFound)

	gotTheme, err := svc.GetTheme(ctx, theme.ID)
	require.NoError(t, err)
	assert.Empty(t, gotTheme.LawIDs)
	gotReq, err := svc.GetRequirement(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, gotReq.LawIDs)
}

func TestThemeNameUniqueness(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateTheme(ctx, "Segurança")
	require.NoError(t, err)
	assert.Empty(t, a.LawIDs)
	assert.Empty(t, a.RequirementIDs)

	_, err = svc.CreateTheme(ctx, "Segurança")
	requireKind(t, err, ErrConflict)

	b, err := svc.CreateTheme(ctx, "Privacidade")
	require.NoError(t, err)
	_, err = svc.RenameTheme(ctx, b.ID, "Segurança")
	requireKind(t, err, ErrConflict)

	same, err := svc.RenameTheme(ctx, a.ID, "Segurança")
	require.NoError(t, err)
	assert.Equal(t, a.ID, same.ID)

	_, err = svc.CreateTheme(ctx, "   ")
	requireKind(t, err, ErrValidation)
	_, err = svc.GetTheme(ctx, "missing")
	requireKind(t, err, ErrNotFound)
}

func TestDeleteThemeCascades(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	theme, _ := svc.CreateTheme(ctx, "T")
	other, _ := svc.CreateTheme(ctx, "U")
	law, _ := svc.CreateLaw(ctx, LawInput{Name: "L", ThemeIDs: []string{theme.ID, other.ID}})
	r1, _ := svc.CreateRequirement(ctx, RequirementInput{Name: "R1", ThemeID: theme.ID})
	r2, _ := svc.CreateRequirement(ctx, RequirementInput{Name: "R2", ThemeID: other.ID})

	require.NoError(t, svc.DeleteTheme(ctx, theme.ID))
	requireKind(t, svc.DeleteTheme(ctx, theme.ID), ErrNotFound)

	_, err := svc.GetRequirement(ctx, r1.ID)
	requireKind(t, err, ErrNotFound)
	_, err = svc.GetRequirement(ctx, r2.ID)
	require.NoError(t, err)

	gotLaw, err := svc.GetLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, gotLaw.ThemeIDs)
}

func TestRequirementLedger(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.CreateTheme(ctx, "A")
	b, _ := svc.CreateTheme(ctx, "B")

	_, err := svc.CreateRequirement(ctx, RequirementInput{Name: "R", ThemeID: "ghost"})
	requireKind(t, err, ErrValidation)

	req, err := svc.CreateRequirement(ctx, RequirementInput{Name: "R", ThemeID: a.ID})
	require.NoError(t, err)
	gotA, _ := svc.GetTheme(ctx, a.ID)
	assert.Equal(t, []string{req.ID}, gotA.RequirementIDs)

	ghost := "ghost"
	_, err = svc.UpdateRequirement(ctx, req.ID, RequirementPatch{ThemeID: &ghost})
	requireKind(t, err, ErrValidation)

	moved, err := svc.UpdateRequirement(ctx, req.ID, RequirementPatch{ThemeID: &b.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, moved.ThemeID)
	gotA, _ = svc.GetTheme(ctx, a.ID)
	gotB, _ := svc.GetTheme(ctx, b.ID)
	assert.Empty(t, gotA.RequirementIDs)
	assert.Equal(t, []string{req.ID}, gotB.RequirementIDs)

	byTheme, err := svc.ListRequirementsByTheme(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, byTheme, 1)
	_, err = svc.ListRequirementsByTheme(ctx, "ghost")
	requireKind(t, err, ErrNotFound)

	all, err := svc.ListRequirements(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.DeleteRequirement(ctx, req.ID))
	gotB, _ = svc.GetTheme(ctx, b.ID)
	assert.Empty(t, gotB.RequirementIDs)
	requireKind(t, svc.DeleteRequirement(ctx, req.ID), ErrNotFound)
}

func TestInMemoryUpdateRollsBack(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.InsertTheme(ctx, Theme{ID: "t1", Name: "T"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx Tx) error {
		_, err := tx.GetTheme(ctx, "t1")
		return err
	})
	requireKind(t, err, ErrNotFound)

	err = store.View(ctx, func(tx Tx) error {
		return tx.InsertTheme(ctx, Theme{ID: "t2", Name: "U"})
	})
	require.ErrorIs(t, err, errReadOnly)
}

func TestNormalizeIDs(t *testing.T) {
	got := normalizeIDs([]string{" a", "b", "", "a", "c "})
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Empty(t, normalizeIDs(nil))
}

func TestPutBlobsRollsBackPartialUploads(t *testing.T) {
	svc, blobs, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.putBlobs(ctx, blobCategoryEvidence, []Upload{upload("a.txt", "a"), {Name: " ", Content: bytes.NewReader(nil)}})
	requireKind(t, err, ErrValidation)
	assert.Zero(t, blobs.count())
}

func TestListThemesByLaw(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	security, err := svc.CreateTheme(ctx, "Segurança")
	require.NoError(t, err)
	privacy, err := svc.CreateTheme(ctx, "Privacidade")
	require.NoError(t, err)
	other, err := svc.CreateTheme(ctx, "Resíduos")
	require.NoError(t, err)
	law, err := svc.CreateLaw(ctx, LawInput{Name: "LGPD", ThemeIDs: []string{privacy.ID, security.ID}})
	require.NoError(t, err)
	_, err = svc.CreateRequirement(ctx, RequirementInput{Name: "Criptografia em repouso", ThemeID: security.ID})
	require.NoError(t, err)
	_, err = svc.CreateRequirement(ctx, RequirementInput{Name: "Plano de resíduos", ThemeID: other.ID})
	require.NoError(t, err)

	got, err := svc.ListThemesByLaw(ctx, law.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{privacy.ID, security.ID}, []string{got[0].ID, got[1].ID})
	for _, d := range got {
		switch d.ID {
		case security.ID:
			require.Len(t, d.Requirements, 1)
			assert.Equal(t, "Criptografia em repouso", d.Requirements[0].Name)
		case privacy.ID:
			assert.NotNil(t, d.Requirements)
			assert.Empty(t, d.Requirements)
		}
	}

	_, err = svc.ListThemesByLaw(ctx, "missing")
	requireKind(t, err, ErrNotFound)
}
