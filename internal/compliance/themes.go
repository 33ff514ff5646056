package compliance

import (
	"context"
	"errors"
	"strings"

	"ecolex.org/internal/ids"
)

// CreateTheme registers a theme with a unique name.
func (s *Service) CreateTheme(ctx context.Context, name string) (Theme, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Theme{}, validationf("theme name is required")
	}
	now := s.now()
	theme := Theme{ID: ids.NewAt(now), Name: name, CreatedAt: now}
	err := s.store.Update(ctx, func(tx Tx) error {
		if err := ensureThemeNameFree(ctx, tx, name, ""); err != nil {
			return err
		}
		if err := tx.InsertTheme(ctx, theme); err != nil {
			return err
		}
		var err error
		theme, err = tx.GetTheme(ctx, theme.ID)
		return err
	})
	if err != nil {
		return Theme{}, err
	}
	return theme, nil
}

// ListThemes returns every theme with derived law and requirement ids.
func (s *Service) ListThemes(ctx context.Context) ([]Theme, error) {
	var out []Theme
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListThemes(ctx)
		return err
	})
	return out, err
}

// ListUnlinkedThemes returns themes no law points to.
func (s *Service) ListUnlinkedThemes(ctx context.Context) ([]Theme, error) {
	all, err := s.ListThemes(ctx)
	if err != nil {
		return nil, err
	}
	out := []Theme{}
	for _, t := range all {
		if len(t.LawIDs) == 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListThemesByLaw returns the themes a law covers, in the law's order, each
// with its standalone requirements.
func (s *Service) ListThemesByLaw(ctx context.Context, lawID string) ([]ThemeDetail, error) {
	out := []ThemeDetail{}
	err := s.store.View(ctx, func(tx Tx) error {
		law, err := tx.GetLaw(ctx, lawID)
		if err != nil {
			return err
		}
		for _, themeID := range law.ThemeIDs {
			theme, err := tx.GetTheme(ctx, themeID)
			if err != nil {
				return err
			}
			reqs, err := tx.ListRequirements(ctx, themeID)
			if err != nil {
				return err
			}
			if reqs == nil {
				reqs = []Requirement{}
			}
			out = append(out, ThemeDetail{Theme: theme, Requirements: reqs})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTheme returns one theme.
func (s *Service) GetTheme(ctx context.Context, id string) (Theme, error) {
	var theme Theme
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		theme, err = tx.GetTheme(ctx, id)
		return err
	})
	return theme, err
}

// RenameTheme changes a theme's name. Renaming to the current name is a no-op.
func (s *Service) RenameTheme(ctx context.Context, id, name string) (Theme, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Theme{}, validationf("theme name is required")
	}
	var theme Theme
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		theme, err = tx.GetTheme(ctx, id)
		if err != nil {
			return err
		}
		if theme.Name == name {
			return nil
		}
		if err := ensureThemeNameFree(ctx, tx, name, id); err != nil {
			return err
		}
		if err := tx.RenameTheme(ctx, id, name); err != nil {
			return err
		}
		theme, err = tx.GetTheme(ctx, id)
		return err
	})
	if err != nil {
		return Theme{}, err
	}
	return theme, nil
}

// DeleteTheme removes a theme together with its standalone requirements and
// its law links. Theme instances created from it keep their content but
// lose the reference, so every cached project view is dropped.
func (s *Service) DeleteTheme(ctx context.Context, id string) error {
	err := s.store.Update(ctx, func(tx Tx) error {
		return tx.DeleteTheme(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateAllProjects(ctx)
	return nil
}

func ensureThemeNameFree(ctx context.Context, tx Tx, name, selfID string) error {
	other, err := tx.FindThemeByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.ID != selfID:
		return conflictf("theme name already exists")
	}
	return nil
}
