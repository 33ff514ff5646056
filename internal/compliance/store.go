package compliance

import "context"

// Store opens units of work over the compliance tables. Update runs fn in a
// single atomic transaction: if fn returns an error nothing it wrote is kept.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the repository view available inside a unit of work.
type Tx interface {
	LawStore
	ThemeStore
	RequirementStore
	ProjectStore
}

// LawStore persists laws. Law.ThemeIDs is the full link set: InsertLaw and
// UpdateLaw write it, reads fill it from the join rows.
type LawStore interface {
	InsertLaw(ctx context.Context, law Law) error
	UpdateLaw(ctx context.Context, law Law) error
	GetLaw(ctx context.Context, id string) (Law, error)
	ListLaws(ctx context.Context) ([]Law, error)
	// DeleteLaw removes the law and every theme and requirement link to it.
	DeleteLaw(ctx context.Context, id string) error
	// MissingLawIDs returns the ids that do not resolve, in input order.
	MissingLawIDs(ctx context.Context, ids []string) ([]string, error)
}

// ThemeStore persists global themes. Theme.LawIDs and Theme.RequirementIDs
// are computed on read and ignored on write.
type ThemeStore interface {
	InsertTheme(ctx context.Context, theme Theme) error
	GetTheme(ctx context.Context, id string) (Theme, error)
	FindThemeByName(ctx context.Context, name string) (Theme, error)
	ListThemes(ctx context.Context) ([]Theme, error)
	RenameTheme(ctx context.Context, id, name string) error
	// DeleteTheme removes the theme, its standalone requirements and its law
	// links. Theme instances created from it keep their copy.
	DeleteTheme(ctx context.Context, id string) error
	MissingThemeIDs(ctx context.Context, ids []string) ([]string, error)
}

// RequirementStore persists standalone requirements and their law links.
type RequirementStore interface {
	InsertRequirement(ctx context.Context, req Requirement) error
	GetRequirement(ctx context.Context, id string) (Requirement, error)
	// ListRequirements lists requirements of a theme, or all when themeID is empty.
	ListRequirements(ctx context.Context, themeID string) ([]Requirement, error)
	UpdateRequirement(ctx context.Context, req Requirement) error
	DeleteRequirement(ctx context.Context, id string) error
}

// ProjectStore persists project aggregates as a whole.
type ProjectStore interface {
	InsertProject(ctx context.Context, p Project) error
	// GetProject loads the aggregate. Inside Update it also locks the project
	// until the transaction ends.
	GetProject(ctx context.Context, id string) (Project, error)
	ProjectIDByName(ctx context.Context, name string) (string, error)
	ListProjects(ctx context.Context) ([]Project, error)
	// ReplaceProject rewrites the name and every owned theme and requirement.
	ReplaceProject(ctx context.Context, p Project) error
	DeleteProject(ctx context.Context, id string) error
}
