package compliance

import (
	"slices"
	"time"
)

// Status is the completion state of a requirement instance.
type Status string

const (
	StatusPending Status = "pendente"
	StatusDone    Status = "concluido"
)

// Valid reports whether s is one of the two known states.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDone
}

// MaxAttachments bounds the attachment list of a requirement instance.
const MaxAttachments = 3

// Law is a legal reference linked to one or more themes.
type Law struct {
	ID           string    `json:"id"`
	Name         string    `json:"nome"`
	Link         string    `json:"link"`
	DocumentPath string    `json:"documento,omitempty"`
	ThemeIDs     []string  `json:"temas"`
	CreatedAt    time.Time `json:"-"`
}

// Theme is a named compliance topic. LawIDs and RequirementIDs are derived
// from the link tables on every read.
type Theme struct {
	ID             string    `json:"id"`
	Name           string    `json:"nome"`
	LawIDs         []string  `json:"leisIds"`
	RequirementIDs []string  `json:"requisitosIds"`
	CreatedAt      time.Time `json:"-"`
}

// ThemeDetail is a theme expanded with its standalone requirements.
type ThemeDetail struct {
	Theme
	Requirements []Requirement `json:"requisitos"`
}

// Requirement is a standalone requirement owned by a global theme.
type Requirement struct {
	ID        string    `json:"id"`
	Name      string    `json:"nome"`
	ThemeID   string    `json:"temaId"`
	LawIDs    []string  `json:"leisIds"`
	CreatedAt time.Time `json:"-"`
}

// Project owns its theme instances and their requirement instances.
type Project struct {
	ID        string          `json:"id"`
	Name      string          `json:"nome"`
	Themes    []ThemeInstance `json:"temas"`
	CreatedAt time.Time       `json:"-"`
}

// ThemeInstance is a project-local copy of a theme. ThemeID records the global
// theme it was attached from, when there is one.
type ThemeInstance struct {
	ID           string                `json:"id"`
	ThemeID      string                `json:"temaId,omitempty"`
	Name         string                `json:"nome"`
	Requirements []RequirementInstance `json:"requisitos"`
}

// RequirementInstance is a trackable compliance item inside a project.
type RequirementInstance struct {
	ID          string       `json:"id"`
	Name        string       `json:"nome"`
	Status      Status       `json:"status"`
	Evidence    string       `json:"evidencia"`
	Attachments []Attachment `json:"anexo"`
	LawIDs      []string     `json:"leisIds"`
	ExpiryDate  *time.Time   `json:"dataValidade,omitempty"`
}

// Attachment is the metadata of an uploaded evidence file.
type Attachment struct {
	Name       string    `json:"nome"`
	Path       string    `json:"caminho"`
	UploadedAt time.Time `json:"data"`
}

// AttachmentDownload describes how to fetch a stored attachment.
type AttachmentDownload struct {
	Name       string    `json:"nome"`
	URL        string    `json:"url"`
	Path       string    `json:"caminho"`
	UploadedAt time.Time `json:"data"`
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	out := p
	out.Themes = make([]ThemeInstance, len(p.Themes))
	for i, t := range p.Themes {
		out.Themes[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the theme instance.
func (t ThemeInstance) Clone() ThemeInstance {
	out := t
	out.Requirements = make([]RequirementInstance, len(t.Requirements))
	for i, r := range t.Requirements {
		out.Requirements[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of the requirement instance.
func (r RequirementInstance) Clone() RequirementInstance {
	out := r
	out.Attachments = append([]Attachment{}, r.Attachments...)
	out.LawIDs = append([]string{}, r.LawIDs...)
	if r.ExpiryDate != nil {
		exp := *r.ExpiryDate
		out.ExpiryDate = &exp
	}
	return out
}

// Expired reports whether a done requirement has reached its expiry date.
func (r RequirementInstance) Expired(now time.Time) bool {
	return r.Status == StatusDone && r.ExpiryDate != nil && !now.Before(*r.ExpiryDate)
}

// ApplyExpiry reverts every expired requirement to pending and returns how
// many were reverted. The change is not persisted.
func (p *Project) ApplyExpiry(now time.Time) int {
	reverted := 0
	for i := range p.Themes {
		reqs := p.Themes[i].Requirements
		for j := range reqs {
			if reqs[j].Expired(now) {
				reqs[j].Status = StatusPending
				reverted++
			}
		}
	}
	return reverted
}

// themeByID returns the index of the theme instance with the given id.
func (p *Project) themeByID(id string) int {
	return slices.IndexFunc(p.Themes, func(t ThemeInstance) bool { return t.ID == id })
}

func (t *ThemeInstance) requirementByID(id string) int {
	return slices.IndexFunc(t.Requirements, func(r RequirementInstance) bool { return r.ID == id })
}

// normalize replaces nil slices with empty ones so views encode as [].
func (p *Project) normalize() {
	if p.Themes == nil {
		p.Themes = []ThemeInstance{}
	}
	for i := range p.Themes {
		t := &p.Themes[i]
		if t.Requirements == nil {
			t.Requirements = []RequirementInstance{}
		}
		for j := range t.Requirements {
			r := &t.Requirements[j]
			if r.Attachments == nil {
				r.Attachments = []Attachment{}
			}
			if r.LawIDs == nil {
				r.LawIDs = []string{}
			}
		}
	}
}
