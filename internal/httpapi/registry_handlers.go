package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ecolex.org/internal/compliance"
)

type lawRequest struct {
	Name     *string  `json:"nome"`
	Link     *string  `json:"link"`
	ThemeIDs []string `json:"temas"`
}

type themeRequest struct {
	Name string `json:"nome"`
}

type requirementRequest struct {
	Name    *string  `json:"nome"`
	ThemeID *string  `json:"temaId"`
	LawIDs  []string `json:"leisIds"`
}

// readLaw accepts JSON or a multipart form carrying an optional "documento"
// file. The returned cleanup must run after the service call.
func readLaw(r *http.Request) (lawRequest, *compliance.Upload, func(), error) {
	var req lawRequest
	if !isMultipart(r) {
		err := decodeJSON(r, &req)
		return req, nil, func() {}, err
	}
	form, err := parseUploadForm(r)
	if err != nil {
		return req, nil, func() {}, err
	}
	if form.has("nome") {
		v := form.value("nome")
		req.Name = &v
	}
	if form.has("link") {
		v := form.value("link")
		req.Link = &v
	}
	req.ThemeIDs = form.list("temas")
	files, err := form.uploads("documento")
	if err != nil {
		form.close()
		return req, nil, func() {}, err
	}
	if len(files) > 1 {
		form.close()
		return req, nil, func() {}, badRequest("only one documento file is accepted")
	}
	var doc *compliance.Upload
	if len(files) == 1 {
		doc = &files[0]
	}
	return req, doc, form.close, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// --- laws ---

func (a *API) createLaw(w http.ResponseWriter, r *http.Request) {
	req, doc, cleanup, err := readLaw(r)
	defer cleanup()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	law, err := a.svc.CreateLaw(r.Context(), compliance.LawInput{
		Name:     deref(req.Name),
		Link:     deref(req.Link),
		ThemeIDs: req.ThemeIDs,
		Document: doc,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "law.created", map[string]any{"law_id": law.ID, "themes": law.ThemeIDs})
	writeJSON(w, http.StatusCreated, law)
}

func (a *API) listLaws(w http.ResponseWriter, r *http.Request) {
	laws, err := a.svc.ListLaws(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, laws)
}

func (a *API) getLaw(w http.ResponseWriter, r *http.Request) {
	law, err := a.svc.GetLaw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, law)
}

func (a *API) updateLaw(w http.ResponseWriter, r *http.Request) {
	req, doc, cleanup, err := readLaw(r)
	defer cleanup()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	law, err := a.svc.UpdateLaw(r.Context(), id, compliance.LawPatch{
		Name:     req.Name,
		Link:     req.Link,
		ThemeIDs: req.ThemeIDs,
		Document: doc,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "law.updated", map[string]any{"law_id": id, "document": doc != nil})
	writeJSON(w, http.StatusOK, law)
}

func (a *API) deleteLaw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteLaw(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "law.deleted", map[string]any{"law_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- themes ---

func (a *API) createTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	theme, err := a.svc.CreateTheme(r.Context(), req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "theme.created", map[string]any{"theme_id": theme.ID, "name": theme.Name})
	writeJSON(w, http.StatusCreated, theme)
}

// listLawThemes serves both /api/leis/{id}/temas and /api/temas/lei/{id}.
func (a *API) listLawThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := a.svc.ListThemesByLaw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, themes)
}

func (a *API) listThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := a.svc.ListThemes(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, themes)
}

func (a *API) listUnlinkedThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := a.svc.ListUnlinkedThemes(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, themes)
}

func (a *API) getTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := a.svc.GetTheme(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, theme)
}

func (a *API) renameTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	theme, err := a.svc.RenameTheme(r.Context(), id, req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "theme.renamed", map[string]any{"theme_id": id, "name": theme.Name})
	writeJSON(w, http.StatusOK, theme)
}

func (a *API) deleteTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteTheme(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "theme.deleted", map[string]any{"theme_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- standalone requirements ---

func (a *API) createRequirement(w http.ResponseWriter, r *http.Request) {
	var req requirementRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.svc.CreateRequirement(r.Context(), compliance.RequirementInput{
		Name:    deref(req.Name),
		ThemeID: deref(req.ThemeID),
		LawIDs:  req.LawIDs,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "requirement.created", map[string]any{"requirement_id": out.ID, "theme_id": out.ThemeID})
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) listRequirements(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.svc.ListRequirements(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// listRequirementsByTheme resolves the theme reference explicitly:
// ?projeto=<id> selects a project and ?tipo=instancia says the path id is a
// theme instance id. Without a project the standalone ledger is listed.
func (a *API) listRequirementsByTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "temaId")
	q := r.URL.Query()
	projectID := strings.TrimSpace(q.Get("projeto"))
	kind := compliance.ThemeRefKind(strings.TrimSpace(q.Get("tipo")))
	if kind == "" {
		kind = compliance.ThemeRefGlobal
	}

	if projectID == "" {
		if kind != compliance.ThemeRefGlobal {
			a.fail(w, r, badRequest("projeto is required for tipo "+string(kind)))
			return
		}
		reqs, err := a.svc.ListRequirementsByTheme(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reqs)
		return
	}
	reqs, err := a.svc.ListInstanceRequirements(r.Context(), compliance.ThemeRef{
		Kind:      kind,
		ID:        id,
		ProjectID: projectID,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (a *API) getRequirement(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.GetRequirement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) updateRequirement(w http.ResponseWriter, r *http.Request) {
	var req requirementRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	out, err := a.svc.UpdateRequirement(r.Context(), id, compliance.RequirementPatch{
		Name:    req.Name,
		ThemeID: req.ThemeID,
		LawIDs:  req.LawIDs,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "requirement.updated", map[string]any{"requirement_id": id})
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteRequirement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteRequirement(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "requirement.deleted", map[string]any{"requirement_id": id})
	w.WriteHeader(http.StatusNoContent)
}
