package compliance

import (
	"context"
	"errors"
	"strings"
	"time"

	"ecolex.org/internal/ids"
	"ecolex.org/internal/obs"
)

// ProjectInput is the payload of CreateProject.
type ProjectInput struct {
	Name   string               `json:"nome"`
	Themes []ThemeInstanceInput `json:"temas"`
}

// ProjectPatch is the payload of UpdateProject. A nil Themes keeps the
// current theme instances.
type ProjectPatch struct {
	Name   *string              `json:"nome"`
	Themes []ThemeInstanceInput `json:"temas"`
}

// ThemeInstanceInput describes one theme of a project payload.
type ThemeInstanceInput struct {
	ID           string                     `json:"id"`
	ThemeID      string                     `json:"temaId"`
	Name         string                     `json:"nome"`
	Requirements []RequirementInstanceInput `json:"requisitos"`
}

// RequirementInstanceInput describes one requirement of a project payload.
// Nil fields mean "not sent": on update they keep the stored value.
type RequirementInstanceInput struct {
	ID          string       `json:"id"`
	Name        string       `json:"nome"`
	Status      *Status      `json:"status"`
	Evidence    *string      `json:"evidencia"`
	Attachments []Attachment `json:"anexo"`
	LawIDs      []string     `json:"leisIds"`
	ExpiryDate  *time.Time   `json:"dataValidade"`
}

// NewRequirementInput is the payload of AddRequirementToThemeInstance.
type NewRequirementInput struct {
	Name   string
	Status *Status
	LawIDs []string
}

// EvidenceInput is the payload of RecordEvidence.
type EvidenceInput struct {
	Record     string
	ExpiryDate *time.Time
	Files      []Upload
}

// StatusPatch is the payload of UpdateRequirementStatus.
type StatusPatch struct {
	Status     *Status
	LawIDs     []string
	ExpiryDate *time.Time
}

// RequirementRef addresses a requirement instance inside a project.
type RequirementRef struct {
	ProjectID       string
	ThemeInstanceID string
	RequirementID   string
}

// ThemeRefKind says which id space ThemeRef.ID belongs to.
type ThemeRefKind string

const (
	ThemeRefGlobal   ThemeRefKind = "tema"
	ThemeRefInstance ThemeRefKind = "instancia"
)

// ThemeRef is an explicit reference to a project's theme instance, either by
// the instance id or by the global theme it was attached from.
type ThemeRef struct {
	Kind      ThemeRefKind
	ID        string
	ProjectID string
}

// CreateProject stores a new project with deep copies of the given themes.
func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Project{}, validationf("project name is required")
	}
	if len(in.Themes) == 0 {
		return Project{}, validationf("at least one theme is required")
	}
	now := s.now()
	themes, refs, err := s.buildThemes(in.Themes, nil)
	if err != nil {
		return Project{}, err
	}
	p := Project{ID: ids.NewAt(now), Name: name, Themes: themes, CreatedAt: now}

	err = s.store.Update(ctx, func(tx Tx) error {
		if err := refs.check(ctx, tx); err != nil {
			return err
		}
		if err := ensureProjectNameFree(ctx, tx, name, ""); err != nil {
			return err
		}
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProject(ctx, p.ID)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	s.publish("projeto.criado", p.ID)
	return s.view(p), nil
}

// ListProjects returns every project, newest first, with expiry applied.
func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListProjects(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = s.view(out[i])
	}
	return out, nil
}

// GetProject returns one project with expiry applied.
func (s *Service) GetProject(ctx context.Context, id string) (Project, error) {
	cached, key, ok := s.cachedProject(ctx, id)
	if ok {
		return s.view(cached), nil
	}
	var p Project
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetProject(ctx, id)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	s.storeProjectView(ctx, key, p)
	return s.view(p), nil
}

// UpdateProject renames the project and/or replaces its themes, merging
// omitted requirement fields from the stored aggregate.
func (s *Service) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error) {
	var name string
	if patch.Name != nil {
		if name = strings.TrimSpace(*patch.Name); name == "" {
			return Project{}, validationf("project name cannot be empty")
		}
	}
	return s.mutateProject(ctx, id, "projeto.atualizado", func(tx Tx, p *Project) error {
		if patch.Name != nil && name != p.Name {
			if err := ensureProjectNameFree(ctx, tx, name, p.ID); err != nil {
				return err
			}
			p.Name = name
		}
		if patch.Themes == nil {
			return nil
		}
		themes, refs, err := s.buildThemes(patch.Themes, p.Themes)
		if err != nil {
			return err
		}
		if err := refs.check(ctx, tx); err != nil {
			return err
		}
		p.Themes = themes
		return nil
	})
}

// DeleteProject removes a project and everything it owns.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	err := s.store.Update(ctx, func(tx Tx) error {
		return tx.DeleteProject(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateProject(ctx, id)
	s.publish("projeto.removido", id)
	return nil
}

// AttachTheme copies a global theme into the project as a new, empty theme
// instance.
func (s *Service) AttachTheme(ctx context.Context, projectID, themeID string) (Project, error) {
	themeID = strings.TrimSpace(themeID)
	if themeID == "" {
		return Project{}, validationf("theme id is required")
	}
	return s.mutateProject(ctx, projectID, "projeto.tema.vinculado", func(tx Tx, p *Project) error {
		theme, err := tx.GetTheme(ctx, themeID)
		if errors.Is(err, ErrNotFound) {
			return validationf("theme not found: %s", themeID)
		}
		if err != nil {
			return err
		}
		for _, t := range p.Themes {
			if t.Name == theme.Name {
				return validationf("theme already attached to project")
			}
		}
		p.Themes = append(p.Themes, ThemeInstance{
			ID:           ids.NewAt(s.now()),
			ThemeID:      theme.ID,
			Name:         theme.Name,
			Requirements: []RequirementInstance{},
		})
		return nil
	})
}

// AddRequirementToThemeInstance appends a new requirement to a theme
// instance. Its expiry date defaults to the creation time.
func (s *Service) AddRequirementToThemeInstance(ctx context.Context, projectID, themeInstanceID string, in NewRequirementInput) (Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Project{}, validationf("requirement name is required")
	}
	if err := checkStatus(in.Status); err != nil {
		return Project{}, err
	}
	lawIDs := normalizeIDs(in.LawIDs)
	return s.mutateProject(ctx, projectID, "projeto.requisito.criado", func(tx Tx, p *Project) error {
		ti := p.themeByID(themeInstanceID)
		if ti < 0 {
			return NotFound("theme in project")
		}
		theme := &p.Themes[ti]
		for _, r := range theme.Requirements {
			if r.Name == name {
				return conflictf("requirement already exists in this theme")
			}
		}
		if err := checkLaws(ctx, tx, lawIDs); err != nil {
			return err
		}
		now := s.now()
		status := StatusPending
		if in.Status != nil {
			status = *in.Status
		}
		theme.Requirements = append(theme.Requirements, RequirementInstance{
			ID:          ids.Prefixed("req", now),
			Name:        name,
			Status:      status,
			Attachments: []Attachment{},
			LawIDs:      lawIDs,
			ExpiryDate:  &now,
		})
		return nil
	})
}

// RecordEvidence replaces the evidence text, optionally moves the expiry date
// and appends uploaded files, keeping at most MaxAttachments.
func (s *Service) RecordEvidence(ctx context.Context, ref RequirementRef, in EvidenceInput) (Project, error) {
	record := strings.TrimSpace(in.Record)
	if record == "" {
		return Project{}, validationf("evidence record is required")
	}
	if err := s.ensureRoom(ctx, ref, len(in.Files)); err != nil {
		return Project{}, err
	}
	stored, err := s.putBlobs(ctx, blobCategoryEvidence, in.Files)
	if err != nil {
		return Project{}, err
	}
	p, err := s.mutateRequirement(ctx, ref, "projeto.evidencia.registrada", func(_ Tx, req *RequirementInstance) error {
		if len(req.Attachments)+len(stored) > MaxAttachments {
			return errTooManyAttachments
		}
		req.Evidence = record
		if in.ExpiryDate != nil {
			exp := in.ExpiryDate.UTC()
			req.ExpiryDate = &exp
		}
		req.Attachments = append(req.Attachments, stored...)
		return nil
	})
	if err != nil {
		s.discardBlobs(ctx, stored)
		return Project{}, err
	}
	return p, nil
}

// UpdateEvidence replaces the evidence text only.
func (s *Service) UpdateEvidence(ctx context.Context, ref RequirementRef, text string) (Project, error) {
	return s.mutateRequirement(ctx, ref, "projeto.evidencia.atualizada", func(_ Tx, req *RequirementInstance) error {
		req.Evidence = text
		return nil
	})
}

// UpdateRequirementStatus changes only the fields present in the patch.
func (s *Service) UpdateRequirementStatus(ctx context.Context, ref RequirementRef, patch StatusPatch) (Project, error) {
	if err := checkStatus(patch.Status); err != nil {
		return Project{}, err
	}
	var lawIDs []string
	if patch.LawIDs != nil {
		lawIDs = normalizeIDs(patch.LawIDs)
	}
	return s.mutateRequirement(ctx, ref, "projeto.requisito.atualizado", func(tx Tx, req *RequirementInstance) error {
		if lawIDs != nil {
			if err := checkLaws(ctx, tx, lawIDs); err != nil {
				return err
			}
			req.LawIDs = lawIDs
		}
		if patch.Status != nil {
			req.Status = *patch.Status
		}
		if patch.ExpiryDate != nil {
			exp := patch.ExpiryDate.UTC()
			req.ExpiryDate = &exp
		}
		return nil
	})
}

// AddAttachments appends uploaded files, failing when the requirement would
// hold more than MaxAttachments.
func (s *Service) AddAttachments(ctx context.Context, ref RequirementRef, files []Upload) (Project, error) {
	if err := s.ensureRoom(ctx, ref, len(files)); err != nil {
		return Project{}, err
	}
	stored, err := s.putBlobs(ctx, blobCategoryEvidence, files)
	if err != nil {
		return Project{}, err
	}
	p, err := s.mutateRequirement(ctx, ref, "projeto.anexos.adicionados", func(_ Tx, req *RequirementInstance) error {
		if len(req.Attachments)+len(stored) > MaxAttachments {
			return errTooManyAttachments
		}
		req.Attachments = append(req.Attachments, stored...)
		return nil
	})
	if err != nil {
		s.discardBlobs(ctx, stored)
		return Project{}, err
	}
	return p, nil
}

// GetAttachmentDownloadInfo returns the metadata and a download URL for the
// attachment at index.
func (s *Service) GetAttachmentDownloadInfo(ctx context.Context, ref RequirementRef, index int) (AttachmentDownload, error) {
	p, err := s.GetProject(ctx, ref.ProjectID)
	if err != nil {
		return AttachmentDownload{}, err
	}
	req, err := findRequirement(&p, ref)
	if err != nil {
		return AttachmentDownload{}, err
	}
	if index < 0 || index >= len(req.Attachments) {
		return AttachmentDownload{}, NotFound("attachment")
	}
	a := req.Attachments[index]
	out := AttachmentDownload{Name: a.Name, Path: a.Path, UploadedAt: a.UploadedAt}
	if s.blobs != nil {
		if out.URL, err = s.blobs.URL(ctx, a.Path); err != nil {
			return AttachmentDownload{}, err
		}
	}
	return out, nil
}

// ListInstanceRequirements resolves ref inside its project and returns the
// instance's requirements with expiry applied.
func (s *Service) ListInstanceRequirements(ctx context.Context, ref ThemeRef) ([]RequirementInstance, error) {
	if strings.TrimSpace(ref.ProjectID) == "" {
		return nil, validationf("project id is required")
	}
	if ref.Kind != ThemeRefGlobal && ref.Kind != ThemeRefInstance {
		return nil, validationf("unknown theme reference kind %q", string(ref.Kind))
	}
	p, err := s.GetProject(ctx, ref.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, t := range p.Themes {
		switch ref.Kind {
		case ThemeRefInstance:
			if t.ID == ref.ID {
				return t.Requirements, nil
			}
		case ThemeRefGlobal:
			if t.ThemeID == ref.ID {
				return t.Requirements, nil
			}
		}
	}
	return nil, NotFound("theme in project")
}

var errTooManyAttachments = &Error{Kind: ErrValidation, Message: "max 3 attachments per requirement"}

// ensureRoom checks the attachment cap before any file is stored. The check
// is repeated inside the write transaction.
func (s *Service) ensureRoom(ctx context.Context, ref RequirementRef, incoming int) error {
	if incoming > MaxAttachments {
		return errTooManyAttachments
	}
	return s.store.View(ctx, func(tx Tx) error {
		p, err := tx.GetProject(ctx, ref.ProjectID)
		if err != nil {
			return err
		}
		req, err := findRequirement(&p, ref)
		if err != nil {
			return err
		}
		if len(req.Attachments)+incoming > MaxAttachments {
			return errTooManyAttachments
		}
		return nil
	})
}

// mutateProject loads, changes and rewrites a project in one transaction.
func (s *Service) mutateProject(ctx context.Context, id, event string, fn func(tx Tx, p *Project) error) (Project, error) {
	var p Project
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, &p); err != nil {
			return err
		}
		if err := tx.ReplaceProject(ctx, p); err != nil {
			return err
		}
		p, err = tx.GetProject(ctx, id)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	s.invalidateProject(ctx, id)
	s.publish(event, id)
	return s.view(p), nil
}

func (s *Service) mutateRequirement(ctx context.Context, ref RequirementRef, event string, fn func(tx Tx, req *RequirementInstance) error) (Project, error) {
	return s.mutateProject(ctx, ref.ProjectID, event, func(tx Tx, p *Project) error {
		req, err := findRequirement(p, ref)
		if err != nil {
			return err
		}
		return fn(tx, req)
	})
}

func findRequirement(p *Project, ref RequirementRef) (*RequirementInstance, error) {
	ti := p.themeByID(ref.ThemeInstanceID)
	if ti < 0 {
		return nil, NotFound("theme in project")
	}
	theme := &p.Themes[ti]
	ri := theme.requirementByID(ref.RequirementID)
	if ri < 0 {
		return nil, NotFound("requirement in theme")
	}
	return &theme.Requirements[ri], nil
}

// view prepares a stored aggregate for a response: expired requirements
// revert to pending.
func (s *Service) view(p Project) Project {
	p.normalize()
	if n := p.ApplyExpiry(s.now()); n > 0 {
		obs.RequirementsExpired.Add(float64(n))
	}
	return p
}

func ensureProjectNameFree(ctx context.Context, tx Tx, name, selfID string) error {
	id, err := tx.ProjectIDByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case id != selfID:
		return conflictf("project name already exists")
	}
	return nil
}

// references collects foreign keys found in a project payload so they can be
// validated inside the write transaction.
type references struct {
	lawIDs   []string
	themeIDs []string
}

func (r references) check(ctx context.Context, tx Tx) error {
	if err := checkThemes(ctx, tx, normalizeIDs(r.themeIDs)); err != nil {
		return err
	}
	return checkLaws(ctx, tx, normalizeIDs(r.lawIDs))
}

// buildThemes validates a themes payload and merges it with existing
// instances. Instances match by id, then by name; requirements match by id
// within the matched instance. Unmatched instances get fresh ids.
func (s *Service) buildThemes(in []ThemeInstanceInput, existing []ThemeInstance) ([]ThemeInstance, references, error) {
	var refs references
	out := make([]ThemeInstance, 0, len(in))
	names := make(map[string]struct{}, len(in))
	for _, t := range in {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, refs, validationf("theme name is required")
		}
		if _, dup := names[name]; dup {
			return nil, refs, validationf("duplicate theme %q in project", name)
		}
		names[name] = struct{}{}

		prev := matchTheme(existing, strings.TrimSpace(t.ID), name)
		inst := ThemeInstance{Name: name, ThemeID: strings.TrimSpace(t.ThemeID)}
		if prev != nil {
			inst.ID = prev.ID
			if inst.ThemeID == "" {
				inst.ThemeID = prev.ThemeID
			}
		} else {
			inst.ID = ids.NewAt(s.now())
		}
		if inst.ThemeID != "" && (prev == nil || inst.ThemeID != prev.ThemeID) {
			refs.themeIDs = append(refs.themeIDs, inst.ThemeID)
		}

		reqs, err := s.buildRequirements(t.Requirements, prev, &refs)
		if err != nil {
			return nil, refs, err
		}
		inst.Requirements = reqs
		out = append(out, inst)
	}
	return out, refs, nil
}

func (s *Service) buildRequirements(in []RequirementInstanceInput, prev *ThemeInstance, refs *references) ([]RequirementInstance, error) {
	out := make([]RequirementInstance, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		id, name := strings.TrimSpace(r.ID), strings.TrimSpace(r.Name)
		if id == "" || name == "" {
			return nil, validationf("requirement id and name are required")
		}
		if _, dup := seen[id]; dup {
			return nil, validationf("duplicate requirement id %q in theme", id)
		}
		seen[id] = struct{}{}
		if err := checkStatus(r.Status); err != nil {
			return nil, err
		}

		var old RequirementInstance
		if prev != nil {
			if i := prev.requirementByID(id); i >= 0 {
				old = prev.Requirements[i].Clone()
			}
		}
		req := RequirementInstance{
			ID:          id,
			Name:        name,
			Status:      StatusPending,
			Evidence:    old.Evidence,
			Attachments: old.Attachments,
			LawIDs:      old.LawIDs,
			ExpiryDate:  old.ExpiryDate,
		}
		if old.Status != "" {
			req.Status = old.Status
		}
		if r.Status != nil {
			req.Status = *r.Status
		}
		if r.Evidence != nil {
			req.Evidence = *r.Evidence
		}
		if r.Attachments != nil {
			req.Attachments = append([]Attachment{}, r.Attachments...)
		}
		if len(req.Attachments) > MaxAttachments {
			return nil, errTooManyAttachments
		}
		if r.LawIDs != nil {
			req.LawIDs = normalizeIDs(r.LawIDs)
			refs.lawIDs = append(refs.lawIDs, req.LawIDs...)
		}
		if r.ExpiryDate != nil {
			exp := r.ExpiryDate.UTC()
			req.ExpiryDate = &exp
		}
		if req.Attachments == nil {
			req.Attachments = []Attachment{}
		}
		if req.LawIDs == nil {
			req.LawIDs = []string{}
		}
		out = append(out, req)
	}
	return out, nil
}

func matchTheme(existing []ThemeInstance, id, name string) *ThemeInstance {
	if id != "" {
		for i := range existing {
			if existing[i].ID == id {
				return &existing[i]
			}
		}
	}
	for i := range existing {
		if existing[i].Name == name {
			return &existing[i]
		}
	}
	return nil
}
