package compliance

import (
	"context"
	"strings"

	"ecolex.org/internal/ids"
)

// LawInput is the payload of CreateLaw.
type LawInput struct {
	Name     string
	Link     string
	ThemeIDs []string
	Document *Upload
}

// LawPatch is the payload of UpdateLaw. Nil fields are left unchanged; a nil
// ThemeIDs keeps the current links.
type LawPatch struct {
	Name     *string
	Link     *string
	ThemeIDs []string
	Document *Upload
}

// CreateLaw registers a law linked to at least one existing theme.
func (s *Service) CreateLaw(ctx context.Context, in LawInput) (Law, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Law{}, validationf("law name is required")
	}
	themeIDs := normalizeIDs(in.ThemeIDs)
	if len(themeIDs) == 0 {
		return Law{}, validationf("at least one theme id is required")
	}

	now := s.now()
	law := Law{
		ID:        ids.NewAt(now),
		Name:      name,
		Link:      strings.TrimSpace(in.Link),
		ThemeIDs:  themeIDs,
		CreatedAt: now,
	}
	doc, err := s.putDocument(ctx, in.Document)
	if err != nil {
		return Law{}, err
	}
	law.DocumentPath = doc.Path

	err = s.store.Update(ctx, func(tx Tx) error {
		if err := checkThemes(ctx, tx, themeIDs); err != nil {
			return err
		}
		if err := tx.InsertLaw(ctx, law); err != nil {
			return err
		}
		law, err = tx.GetLaw(ctx, law.ID)
		return err
	})
	if err != nil {
		s.discardBlobs(ctx, docs(doc))
		return Law{}, err
	}
	return law, nil
}

// ListLaws returns every law with its current theme ids.
func (s *Service) ListLaws(ctx context.Context) ([]Law, error) {
	var out []Law
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListLaws(ctx)
		return err
	})
	return out, err
}

// GetLaw returns one law.
func (s *Service) GetLaw(ctx context.Context, id string) (Law, error) {
	var law Law
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		law, err = tx.GetLaw(ctx, id)
		return err
	})
	return law, err
}

// UpdateLaw applies a partial update. When ThemeIDs is given it replaces the
// link set after every id has been validated.
func (s *Service) UpdateLaw(ctx context.Context, id string, patch LawPatch) (Law, error) {
	var name string
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
		if name == "" {
			return Law{}, validationf("law name cannot be empty")
		}
	}
	var themeIDs []string
	if patch.ThemeIDs != nil {
		themeIDs = normalizeIDs(patch.ThemeIDs)
		if len(themeIDs) == 0 {
			return Law{}, validationf("at least one theme id is required")
		}
	}

	doc, err := s.putDocument(ctx, patch.Document)
	if err != nil {
		return Law{}, err
	}

	var (
		law    Law
		oldDoc string
	)
	err = s.store.Update(ctx, func(tx Tx) error {
		var err error
		law, err = tx.GetLaw(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			law.Name = name
		}
		if patch.Link != nil {
			law.Link = strings.TrimSpace(*patch.Link)
		}
		if themeIDs != nil {
			if err := checkThemes(ctx, tx, themeIDs); err != nil {
				return err
			}
			law.ThemeIDs = themeIDs
		}
		if doc.Path != "" {
			oldDoc = law.DocumentPath
			law.DocumentPath = doc.Path
		}
		if err := tx.UpdateLaw(ctx, law); err != nil {
			return err
		}
		law, err = tx.GetLaw(ctx, id)
		return err
	})
	if err != nil {
		s.discardBlobs(ctx, docs(doc))
		return Law{}, err
	}
	if oldDoc != "" {
		s.discardBlobs(ctx, []Attachment{{Path: oldDoc}})
	}
	return law, nil
}

// DeleteLaw removes a law and unlinks it from themes and requirements.
func (s *Service) DeleteLaw(ctx context.Context, id string) error {
	var doc string
	err := s.store.Update(ctx, func(tx Tx) error {
		law, err := tx.GetLaw(ctx, id)
		if err != nil {
			return err
		}
		doc = law.DocumentPath
		return tx.DeleteLaw(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateAllProjects(ctx)
	if doc != "" {
		s.discardBlobs(ctx, []Attachment{{Path: doc}})
	}
	return nil
}

func (s *Service) putDocument(ctx context.Context, doc *Upload) (Attachment, error) {
	if doc == nil {
		return Attachment{}, nil
	}
	stored, err := s.putBlobs(ctx, blobCategoryLaws, []Upload{*doc})
	if err != nil {
		return Attachment{}, err
	}
	return stored[0], nil
}

func docs(a Attachment) []Attachment {
	if a.Path == "" {
		return nil
	}
	return []Attachment{a}
}
