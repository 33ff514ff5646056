package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ecolex.org/internal/compliance"
)

type projectRequest struct {
	Name   *string                `json:"nome"`
	Themes []themeInstanceRequest `json:"temas"`
}

type themeInstanceRequest struct {
	ID           string                       `json:"id"`
	ThemeID      string                       `json:"temaId"`
	Name         string                       `json:"nome"`
	Requirements []requirementInstanceRequest `json:"requisitos"`
}

type requirementInstanceRequest struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"nome"`
	Status      *compliance.Status      `json:"status"`
	Evidence    *string                 `json:"evidencia"`
	Attachments []compliance.Attachment `json:"anexo"`
	LawIDs      []string                `json:"leisIds"`
	ExpiryDate  *date                   `json:"dataValidade"`
}

func (p projectRequest) themes() []compliance.ThemeInstanceInput {
	if p.Themes == nil {
		return nil
	}
	out := make([]compliance.ThemeInstanceInput, len(p.Themes))
	for i, t := range p.Themes {
		in := compliance.ThemeInstanceInput{ID: t.ID, ThemeID: t.ThemeID, Name: t.Name}
		if t.Requirements != nil {
			in.Requirements = make([]compliance.RequirementInstanceInput, len(t.Requirements))
		}
		for j, r := range t.Requirements {
			in.Requirements[j] = compliance.RequirementInstanceInput{
				ID:          r.ID,
				Name:        r.Name,
				Status:      r.Status,
				Evidence:    r.Evidence,
				Attachments: r.Attachments,
				LawIDs:      r.LawIDs,
				ExpiryDate:  r.ExpiryDate.ptr(),
			}
		}
		out[i] = in
	}
	return out
}

type attachThemeRequest struct {
	ThemeID string `json:"temaId"`
}

type newRequirementRequest struct {
	Name   string             `json:"nome"`
	Status *compliance.Status `json:"status"`
	LawIDs []string           `json:"leisIds"`
}

type statusRequest struct {
	Status     *compliance.Status `json:"status"`
	LawIDs     []string           `json:"leisIds"`
	ExpiryDate *date              `json:"dataValidade"`
}

type evidenceTextRequest struct {
	Evidence string `json:"evidencia"`
}

func requirementRef(r *http.Request) compliance.RequirementRef {
	return compliance.RequirementRef{
		ProjectID:       chi.URLParam(r, "id"),
		ThemeInstanceID: chi.URLParam(r, "temaId"),
		RequirementID:   chi.URLParam(r, "reqId"),
	}
}

func refFields(ref compliance.RequirementRef) map[string]any {
	return map[string]any{
		"project_id":        ref.ProjectID,
		"theme_instance_id": ref.ThemeInstanceID,
		"requirement_id":    ref.RequirementID,
	}
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.svc.CreateProject(r.Context(), compliance.ProjectInput{
		Name:   deref(req.Name),
		Themes: req.themes(),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "project.created", map[string]any{"project_id": p.ID, "themes": len(p.Themes)})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.svc.ListProjects(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	p, err := a.svc.UpdateProject(r.Context(), id, compliance.ProjectPatch{
		Name:   req.Name,
		Themes: req.themes(),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "project.updated", map[string]any{"project_id": id, "themes": len(p.Themes)})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteProject(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "project.deleted", map[string]any{"project_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) attachTheme(w http.ResponseWriter, r *http.Request) {
	var req attachThemeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	p, err := a.svc.AttachTheme(r.Context(), id, req.ThemeID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "project.theme_attached", map[string]any{"project_id": id, "theme_id": req.ThemeID})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listThemeInstanceRequirements(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.svc.ListInstanceRequirements(r.Context(), compliance.ThemeRef{
		Kind:      compliance.ThemeRefInstance,
		ID:        chi.URLParam(r, "temaId"),
		ProjectID: chi.URLParam(r, "id"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (a *API) addRequirement(w http.ResponseWriter, r *http.Request) {
	var req newRequirementRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id, themeID := chi.URLParam(r, "id"), chi.URLParam(r, "temaId")
	p, err := a.svc.AddRequirementToThemeInstance(r.Context(), id, themeID, compliance.NewRequirementInput{
		Name:   req.Name,
		Status: req.Status,
		LawIDs: req.LawIDs,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "project.requirement_added", map[string]any{"project_id": id, "theme_instance_id": themeID})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) updateRequirementStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	ref := requirementRef(r)
	p, err := a.svc.UpdateRequirementStatus(r.Context(), ref, compliance.StatusPatch{
		Status:     req.Status,
		LawIDs:     req.LawIDs,
		ExpiryDate: req.ExpiryDate.ptr(),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	fields := refFields(ref)
	if req.Status != nil {
		fields["status"] = string(*req.Status)
	}
	a.auditEvent(r, "project.requirement_updated", fields)
	writeJSON(w, http.StatusOK, p)
}

// recordEvidence takes a multipart form with "registro", an optional
// "dataValidade" and up to three "anexo" files. A JSON body without files is
// accepted too.
func (a *API) recordEvidence(w http.ResponseWriter, r *http.Request) {
	var in compliance.EvidenceInput
	if isMultipart(r) {
		form, err := parseUploadForm(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		defer form.close()
		in.Record = form.value("registro")
		if in.ExpiryDate, err = parseDate(form.value("dataValidade")); err != nil {
			a.fail(w, r, err)
			return
		}
		if in.Files, err = form.uploads("anexo"); err != nil {
			a.fail(w, r, err)
			return
		}
	} else {
		var req struct {
			Record     string `json:"registro"`
			ExpiryDate *date  `json:"dataValidade"`
		}
		if err := decodeJSON(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		in.Record, in.ExpiryDate = req.Record, req.ExpiryDate.ptr()
	}

	ref := requirementRef(r)
	p, err := a.svc.RecordEvidence(r.Context(), ref, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	fields := refFields(ref)
	fields["files"] = len(in.Files)
	a.auditEvent(r, "project.evidence_recorded", fields)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) updateEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceTextRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	ref := requirementRef(r)
	p, err := a.svc.UpdateEvidence(r.Context(), ref, req.Evidence)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "project.evidence_updated", refFields(ref))
	writeJSON(w, http.StatusOK, p)
}

func (a *API) addAttachments(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		a.fail(w, r, badRequest("multipart/form-data with anexos files is required"))
		return
	}
	form, err := parseUploadForm(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer form.close()
	files, err := form.uploads("anexos")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(files) == 0 {
		a.fail(w, r, badRequest("no files uploaded in anexos"))
		return
	}

	ref := requirementRef(r)
	p, err := a.svc.AddAttachments(r.Context(), ref, files)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	fields := refFields(ref)
	fields["files"] = len(files)
	a.auditEvent(r, "project.attachments_added", fields)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.fail(w, r, badRequest("attachment index must be an integer"))
		return
	}
	info, err := a.svc.GetAttachmentDownloadInfo(r.Context(), requirementRef(r), index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
