package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ecolex.org/internal/compliance"
)

const (
	maxFilesPerUpload = 3
	multipartMemory   = 32 << 20
)

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// uploadForm is a parsed multipart request. close releases the open files
// and any temporary files spilled to disk.
type uploadForm struct {
	form  *multipart.Form
	files []multipart.File
}

func parseUploadForm(r *http.Request) (*uploadForm, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, err
		}
		return nil, badRequest("invalid multipart body: " + err.Error())
	}
	return &uploadForm{form: r.MultipartForm}, nil
}

func (f *uploadForm) value(name string) string {
	if vs := f.form.Value[name]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func (f *uploadForm) has(name string) bool {
	_, ok := f.form.Value[name]
	return ok
}

// list reads a repeated field. A single value holding a JSON array or a comma
// separated list is expanded.
func (f *uploadForm) list(name string) []string {
	vs, ok := f.form.Value[name]
	if !ok {
		return nil
	}
	out := []string{}
	for _, v := range vs {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(v), &arr); err == nil {
				out = append(out, arr...)
				continue
			}
		}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// uploads opens the files sent under the given field names.
func (f *uploadForm) uploads(fields ...string) ([]compliance.Upload, error) {
	var headers []*multipart.FileHeader
	for _, field := range fields {
		headers = append(headers, f.form.File[field]...)
	}
	if len(headers) > maxFilesPerUpload {
		return nil, badRequest("at most 3 files per upload")
	}
	out := make([]compliance.Upload, 0, len(headers))
	for _, h := range headers {
		file, err := h.Open()
		if err != nil {
			return nil, err
		}
		f.files = append(f.files, file)
		out = append(out, compliance.Upload{Name: h.Filename, Content: file})
	}
	return out, nil
}

func (f *uploadForm) close() {
	for _, file := range f.files {
		_ = file.Close()
	}
	_ = f.form.RemoveAll()
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, badRequest("invalid date " + raw + ": use YYYY-MM-DD or RFC 3339")
	}
	return &t, nil
}

// date is a JSON date in either accepted format. null and "" decode to nil.
type date struct {
	t *time.Time
}

func (d *date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.t = nil
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return badRequest("dataValidade must be a string")
	}
	t, err := parseDate(raw)
	if err != nil {
		return err
	}
	d.t = t
	return nil
}

func (d *date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	return d.t
}
