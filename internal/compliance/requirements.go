package compliance

import (
	"context"
	"strings"

	"ecolex.org/internal/ids"
)

// RequirementInput is the payload of CreateRequirement.
type RequirementInput struct {
	Name    string
	ThemeID string
	LawIDs  []string
}

// RequirementPatch is the payload of UpdateRequirement. A nil LawIDs keeps
// the current links.
type RequirementPatch struct {
	Name    *string
	ThemeID *string
	LawIDs  []string
}

// CreateRequirement adds a standalone requirement to an existing theme.
func (s *Service) CreateRequirement(ctx context.Context, in RequirementInput) (Requirement, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Requirement{}, validationf("requirement name is required")
	}
	themeID := strings.TrimSpace(in.ThemeID)
	if themeID == "" {
		return Requirement{}, validationf("theme id is required")
	}
	lawIDs := normalizeIDs(in.LawIDs)

	now := s.now()
	req := Requirement{ID: ids.NewAt(now), Name: name, ThemeID: themeID, LawIDs: lawIDs, CreatedAt: now}
	err := s.store.Update(ctx, func(tx Tx) error {
		if err := checkThemes(ctx, tx, []string{themeID}); err != nil {
			return err
		}
		if err := checkLaws(ctx, tx, lawIDs); err != nil {
			return err
		}
		if err := tx.InsertRequirement(ctx, req); err != nil {
			return err
		}
		var err error
		req, err = tx.GetRequirement(ctx, req.ID)
		return err
	})
	if err != nil {
		return Requirement{}, err
	}
	return req, nil
}

// ListRequirements returns all standalone requirements.
func (s *Service) ListRequirements(ctx context.Context) ([]Requirement, error) {
	var out []Requirement
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListRequirements(ctx, "")
		return err
	})
	return out, err
}

// ListRequirementsByTheme returns the standalone requirements of a theme.
func (s *Service) ListRequirementsByTheme(ctx context.Context, themeID string) ([]Requirement, error) {
	var out []Requirement
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetTheme(ctx, themeID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListRequirements(ctx, themeID)
		return err
	})
	return out, err
}

// GetRequirement returns one standalone requirement.
func (s *Service) GetRequirement(ctx context.Context, id string) (Requirement, error) {
	var req Requirement
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		req, err = tx.GetRequirement(ctx, id)
		return err
	})
	return req, err
}

// UpdateRequirement renames, moves to another theme, or relinks laws.
func (s *Service) UpdateRequirement(ctx context.Context, id string, patch RequirementPatch) (Requirement, error) {
	var name, themeID string
	if patch.Name != nil {
		if name = strings.TrimSpace(*patch.Name); name == "" {
			return Requirement{}, validationf("requirement name cannot be empty")
		}
	}
	if patch.ThemeID != nil {
		if themeID = strings.TrimSpace(*patch.ThemeID); themeID == "" {
			return Requirement{}, validationf("theme id cannot be empty")
		}
	}
	var lawIDs []string
	if patch.LawIDs != nil {
		lawIDs = normalizeIDs(patch.LawIDs)
	}

	var req Requirement
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		req, err = tx.GetRequirement(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			req.Name = name
		}
		if patch.ThemeID != nil && themeID != req.ThemeID {
			if err := checkThemes(ctx, tx, []string{themeID}); err != nil {
				return err
			}
			req.ThemeID = themeID
		}
		if lawIDs != nil {
			if err := checkLaws(ctx, tx, lawIDs); err != nil {
				return err
			}
			req.LawIDs = lawIDs
		}
		if err := tx.UpdateRequirement(ctx, req); err != nil {
			return err
		}
		req, err = tx.GetRequirement(ctx, id)
		return err
	})
	if err != nil {
		return Requirement{}, err
	}
	return req, nil
}

// DeleteRequirement removes a standalone requirement.
func (s *Service) DeleteRequirement(ctx context.Context, id string) error {
	return s.store.Update(ctx, func(tx Tx) error {
		return tx.DeleteRequirement(ctx, id)
	})
}
