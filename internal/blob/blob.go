// Package blob stores uploaded evidence files and law documents. Stored paths
// look like "uploads/<category>/<unix-millis>-<uuid>-<name>" for every backend.
package blob

import (
	"errors"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix is the first segment of every stored path and the URL prefix the
// local backend is served under.
const Prefix = "uploads"

var (
	errBadCategory = errors.New("invalid blob category")
	errBadPath     = errors.New("invalid blob path")
	unsafeChars    = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)
)

// objectPath builds a unique stored path for an uploaded file.
func objectPath(category, name string, now time.Time) (string, error) {
	if category == "" || strings.ContainsAny(category, `/\.`) {
		return "", errBadCategory
	}
	base := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString() + "-" + sanitize(name)
	return path.Join(Prefix, category, base), nil
}

// sanitize keeps letters, digits, dots, dashes and underscores.
func sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}

// relative validates a stored path and returns it without the prefix.
func relative(p string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	rest, ok := strings.CutPrefix(clean, Prefix+"/")
	if !ok || rest == "" || strings.HasPrefix(rest, "..") {
		return "", errBadPath
	}
	return rest, nil
}
