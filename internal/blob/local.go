package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local writes files below a directory on disk and serves them under /uploads.
type Local struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewLocal returns a store rooted at dir. baseURL prefixes download URLs.
func NewLocal(dir, baseURL string) *Local {
	return &Local{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

func (l *Local) Put(ctx context.Context, category, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored, err := objectPath(category, name, l.now())
	if err != nil {
		return "", err
	}
	rel, _ := relative(stored)
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	// MkdirAll succeeds when a concurrent request created the directory first.
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return stored, nil
}

func (l *Local) Delete(_ context.Context, stored string) error {
	rel, err := relative(stored)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(l.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) URL(_ context.Context, stored string) (string, error) {
	if _, err := relative(stored); err != nil {
		return "", err
	}
	return l.baseURL + "/" + strings.TrimPrefix(stored, "/"), nil
}

// Handler serves stored files; mount it at "/uploads/".
func (l *Local) Handler() http.Handler {
	files := http.FileServer(noDirs{http.Dir(l.root)})
	return http.StripPrefix("/"+Prefix, files)
}

// noDirs hides directory listings.
type noDirs struct{ fs http.FileSystem }

func (n noDirs) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
