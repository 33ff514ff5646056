package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ecolex.org/internal/obs"
	"ecolex.org/internal/stream"
)

// Blobs stores uploaded files. Put returns the stored path recorded in
// attachment metadata.
type Blobs interface {
	Put(ctx context.Context, category, name string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
	URL(ctx context.Context, path string) (string, error)
}

// Upload is a file received from a client.
type Upload struct {
	Name    string
	Content io.Reader
}

// ViewCache caches serialized project aggregates.
type ViewCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Publisher receives project change events after commit.
type Publisher interface {
	Publish(evt stream.Event)
}

const (
	blobCategoryEvidence = "evidencias"
	blobCategoryLaws     = "leis"

	projectGenerationKey = "project:gen"
)

// Service implements the law, theme, requirement and project operations on
// top of a Store.
type Service struct {
	store    Store
	blobs    Blobs
	cache    ViewCache
	cacheTTL time.Duration
	events   Publisher
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithBlobs sets the attachment and law-document store.
func WithBlobs(b Blobs) Option {
	return func(s *Service) { s.blobs = b }
}

// WithCache enables the project view cache.
func WithCache(c ViewCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithPublisher sets the change event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides time.Now, mostly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the default obs logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cacheTTL: 5 * time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- blobs ---

func (s *Service) putBlobs(ctx context.Context, category string, files []Upload) ([]Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.blobs == nil {
		return nil, errors.New("file storage is not configured")
	}
	out := make([]Attachment, 0, len(files))
	for _, f := range files {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			s.discardBlobs(ctx, out)
			return nil, validationf("uploaded file has no name")
		}
		path, err := s.blobs.Put(ctx, category, name, f.Content)
		if err != nil {
			s.discardBlobs(ctx, out)
			return nil, err
		}
		out = append(out, Attachment{Name: name, Path: path, UploadedAt: s.now()})
	}
	obs.AttachmentsUploaded.WithLabelValues(category).Add(float64(len(out)))
	return out, nil
}

// discardBlobs removes files written for a request that did not commit.
func (s *Service) discardBlobs(ctx context.Context, atts []Attachment) {
	if s.blobs == nil {
		return
	}
	for _, a := range atts {
		if err := s.blobs.Delete(context.WithoutCancel(ctx), a.Path); err != nil {
			s.logger.WarnContext(ctx, "blob cleanup failed", "path", a.Path, "error", err)
		}
	}
}

// --- project view cache ---

// projectKey names the current view of a project. It combines the global
// generation with the project's own version, so a view loaded before a
// write can only land on a key that is no longer read. An empty key means
// the counters could not be read and the view must not be cached.
func (s *Service) projectKey(ctx context.Context, id string) string {
	gen, err := s.counter(ctx, projectGenerationKey)
	if err != nil {
		s.logger.WarnContext(ctx, "project cache generation read failed", "error", err)
		return ""
	}
	ver, err := s.counter(ctx, projectVersionKey(id))
	if err != nil {
		s.logger.WarnContext(ctx, "project cache version read failed", "project_id", id, "error", err)
		return ""
	}
	return "project:" + gen + ":" + ver + ":" + id
}

func (s *Service) counter(ctx context.Context, key string) (string, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "0", nil
	}
	return string(raw), nil
}

func projectVersionKey(id string) string { return "project:ver:" + id }

// cachedProject returns the cached view and the key it lives under. The key
// must be captured before the store is read and reused for the fill.
func (s *Service) cachedProject(ctx context.Context, id string) (Project, string, bool) {
	if s.cache == nil {
		return Project{}, "", false
	}
	key := s.projectKey(ctx, id)
	if key == "" {
		return Project{}, "", false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "project cache read failed", "project_id", id, "error", err)
		return Project{}, key, false
	}
	if !ok {
		return Project{}, key, false
	}
	var p cachedProjectView
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.WarnContext(ctx, "project cache decode failed", "project_id", id, "error", err)
		return Project{}, key, false
	}
	return p.project(), key, true
}

func (s *Service) storeProjectView(ctx context.Context, key string, p Project) {
	if s.cache == nil || key == "" {
		return
	}
	raw, err := json.Marshal(newCachedProjectView(p))
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "project cache write failed", "project_id", p.ID, "error", err)
	}
}

// invalidateProject bumps the project's version. When the bump fails the
// current key is dropped instead.
func (s *Service) invalidateProject(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	key := s.projectKey(ctx, id)
	if _, err := s.cache.Incr(ctx, projectVersionKey(id)); err != nil {
		s.logger.WarnContext(ctx, "project cache version bump failed", "project_id", id, "error", err)
		if key == "" {
			return
		}
		if err := s.cache.Del(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "project cache invalidation failed", "project_id", id, "error", err)
		}
	}
}

// invalidateAllProjects moves every project view to a new generation.
func (s *Service) invalidateAllProjects(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Incr(ctx, projectGenerationKey); err != nil {
		s.logger.WarnContext(ctx, "project cache generation bump failed", "error", err)
	}
}

// cachedProjectView keeps CreatedAt, which the public JSON view omits.
type cachedProjectView struct {
	Project
	CreatedAtUnixNano string `json:"created_at_ns"`
}

func newCachedProjectView(p Project) cachedProjectView {
	return cachedProjectView{Project: p, CreatedAtUnixNano: strconv.FormatInt(p.CreatedAt.UnixNano(), 10)}
}

func (v cachedProjectView) project() Project {
	p := v.Project
	if ns, err := strconv.ParseInt(v.CreatedAtUnixNano, 10, 64); err == nil {
		p.CreatedAt = time.Unix(0, ns).UTC()
	}
	p.normalize()
	return p
}

// --- events ---

func (s *Service) publish(evtType, projectID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(stream.Event{Type: evtType, ProjectID: projectID, At: s.now()})
}

// --- input helpers ---

// normalizeIDs trims, drops empties and de-duplicates while keeping order.
func normalizeIDs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func checkLaws(ctx context.Context, tx Tx, lawIDs []string) error {
	if len(lawIDs) == 0 {
		return nil
	}
	missing, err := tx.MissingLawIDs(ctx, lawIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return missingIDs("laws", missing)
	}
	return nil
}

func checkThemes(ctx context.Context, tx Tx, themeIDs []string) error {
	if len(themeIDs) == 0 {
		return nil
	}
	missing, err := tx.MissingThemeIDs(ctx, themeIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return missingIDs("themes", missing)
	}
	return nil
}

func checkStatus(st *Status) error {
	if st == nil || st.Valid() {
		return nil
	}
	return validationf("invalid status %q: use %s or %s", string(*st), StatusPending, StatusDone)
}
