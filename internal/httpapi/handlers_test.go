package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecolex.org/internal/auth"
	"ecolex.org/internal/blob"
	"ecolex.org/internal/cache"
	"ecolex.org/internal/compliance"
	"ecolex.org/internal/obs"
	"ecolex.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testOptions struct {
	store       compliance.Store
	development bool
	signer      *auth.Signer
}

func newTestAPI(t *testing.T, opts ...func(*testOptions)) *apiClient {
	t.Helper()
	o := testOptions{store: compliance.NewInMemory(), development: true}
	for _, opt := range opts {
		opt(&o)
	}

	files := blob.NewLocal(t.TempDir(), "http://files.test")
	events := stream.New()
	svc := compliance.NewService(o.store,
		compliance.WithBlobs(files),
		compliance.WithPublisher(events),
		compliance.WithCache(cache.NewMemory(), time.Minute),
		compliance.WithLogger(obs.NewLogger(io.Discard)),
	)
	api := New(Config{
		Service:     svc,
		Stream:      events,
		Uploads:     files.Handler(),
		Version:     "test",
		Development: o.development,
		RateBurst:   1000,
		RatePerSec:  1000,
		Logger:      obs.NewLogger(io.Discard),
		Auth:        o.signer,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body io.Reader, contentType string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) send(method, path string, body any) *http.Response {
	c.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("marshal body: %v", err)
	}
	return c.do(method, path, bytes.NewReader(payload), "application/json")
}

func (c *apiClient) get(path string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, "")
}

type filePart struct {
	field, name, content string
}

func (c *apiClient) multipart(method, path string, fields map[string]string, files ...filePart) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			c.t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			c.t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte(f.content))
	}
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	return c.do(method, path, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func (c *apiClient) createTheme(name string) compliance.Theme {
	c.t.Helper()
	resp := c.send(http.MethodPost, "/api/temas", map[string]any{"nome": name})
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[compliance.Theme](c.t, resp)
}

func (c *apiClient) createLaw(name string, themeIDs ...string) compliance.Law {
	c.t.Helper()
	resp := c.send(http.MethodPost, "/api/leis", map[string]any{"nome": name, "link": "https://example.test/" + name, "temas": themeIDs})
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[compliance.Law](c.t, resp)
}

// projectWithRequirement creates "Projeto A" with one theme holding r1.
func (c *apiClient) projectWithRequirement(lawIDs ...string) compliance.Project {
	c.t.Helper()
	if lawIDs == nil {
		lawIDs = []string{}
	}
	resp := c.send(http.MethodPost, "/api/projetos", map[string]any{
		"nome": "Projeto A",
		"temas": []map[string]any{{
			"nome": "Segurança",
			"requisitos": []map[string]any{{
				"id": "r1", "nome": "Req1", "status": "pendente", "leisIds": lawIDs,
			}},
		}},
	})
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[compliance.Project](c.t, resp)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz")
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = api.get("/readyz")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/health")
	expectStatus(t, resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	for _, key := range []string{"status", "timestamp", "uptime", "environment", "database"} {
		if _, ok := health[key]; !ok {
			t.Fatalf("health body misses %q: %v", key, health)
		}
	}
	if health["database"] != "memory" {
		t.Fatalf("expected memory database, got %v", health["database"])
	}

	resp = api.get("/")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestLGPDScenario(t *testing.T) {
	api := newTestAPI(t)
	theme := api.createTheme("Segurança")
	lgpd := api.createLaw("LGPD", theme.ID)

	resp := api.get("/api/temas/" + theme.ID)
	expectStatus(t, resp, http.StatusOK)
	got := decode[compliance.Theme](t, resp)
	if len(got.LawIDs) != 1 || got.LawIDs[0] != lgpd.ID {
		t.Fatalf("theme should list the law, got %v", got.LawIDs)
	}

	created := api.projectWithRequirement(lgpd.ID)
	resp = api.get("/api/projetos/" + created.ID)
	expectStatus(t, resp, http.StatusOK)
	p := decode[map[string]any](t, resp)

	themes := p["temas"].([]any)
	if len(themes) != 1 {
		t.Fatalf("expected one theme, got %d", len(themes))
	}
	reqs := themes[0].(map[string]any)["requisitos"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("expected one requirement, got %d", len(reqs))
	}
	req := reqs[0].(map[string]any)
	if req["status"] != "pendente" || req["nome"] != "Req1" {
		t.Fatalf("unexpected requirement: %v", req)
	}
	laws := req["leisIds"].([]any)
	if len(laws) != 1 || laws[0] != lgpd.ID {
		t.Fatalf("expected lgpd id as string, got %v", laws)
	}
}

func TestRegistryErrors(t *testing.T) {
	api := newTestAPI(t)

	resp := api.send(http.MethodPost, "/api/leis", map[string]any{"nome": "LGPD", "temas": []string{}})
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode[map[string]any](t, resp)
	if body["error"] == "" || body["request_id"] == "" {
		t.Fatalf("expected error and request_id, got %v", body)
	}

	theme := api.createTheme("Segurança")
	resp = api.send(http.MethodPost, "/api/temas", map[string]any{"nome": "Segurança"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.send(http.MethodPut, "/api/temas/"+theme.ID, map[string]any{"nome": "Segurança"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/api/temas", strings.NewReader("{"), "application/json")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/api/temas/"+theme.ID, nil, "")
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = api.do(http.MethodDelete, "/api/temas/"+theme.ID, nil, "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/api/leis/missing")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestThemesWithoutLaw(t *testing.T) {
	api := newTestAPI(t)
	linked := api.createTheme("Segurança")
	free := api.createTheme("Resíduos")
	api.createLaw("LGPD", linked.ID)

	resp := api.get("/api/temas/sem-lei")
	expectStatus(t, resp, http.StatusOK)
	themes := decode[[]compliance.Theme](t, resp)
	if len(themes) != 1 || themes[0].ID != free.ID {
		t.Fatalf("expected only %s, got %v", free.ID, themes)
	}
}

func TestThemesOfLaw(t *testing.T) {
	api := newTestAPI(t)
	theme := api.createTheme("Segurança")
	api.createTheme("Resíduos")
	lgpd := api.createLaw("LGPD", theme.ID)

	resp := api.send(http.MethodPost, "/api/requisitos", map[string]any{"nome": "Criptografia", "temaId": theme.ID})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	for _, path := range []string{"/api/leis/" + lgpd.ID + "/temas", "/api/temas/lei/" + lgpd.ID} {
		resp = api.get(path)
		expectStatus(t, resp, http.StatusOK)
		themes := decode[[]map[string]any](t, resp)
		if len(themes) != 1 || themes[0]["id"] != theme.ID {
			t.Fatalf("%s: expected only %s, got %v", path, theme.ID, themes)
		}
		reqs, _ := themes[0]["requisitos"].([]any)
		if len(reqs) != 1 || reqs[0].(map[string]any)["nome"] != "Criptografia" {
			t.Fatalf("%s: expected the theme's requirement, got %v", path, themes[0]["requisitos"])
		}
	}

	resp = api.get("/api/leis/missing/temas")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestLawDocumentUpload(t *testing.T) {
	api := newTestAPI(t)
	a := api.createTheme("Segurança")
	b := api.createTheme("Privacidade")

	resp := api.multipart(http.MethodPost, "/api/leis",
		map[string]string{"nome": "LGPD", "link": "https://lgpd.test", "temas": a.ID + "," + b.ID},
		filePart{field: "documento", name: "lei 13709.pdf", content: "%PDF-1.4"})
	expectStatus(t, resp, http.StatusCreated)
	law := decode[compliance.Law](t, resp)
	if len(law.ThemeIDs) != 2 {
		t.Fatalf("expected two themes, got %v", law.ThemeIDs)
	}
	if !strings.HasPrefix(law.DocumentPath, "uploads/leis/") {
		t.Fatalf("unexpected document path %q", law.DocumentPath)
	}

	resp = api.get("/" + law.DocumentPath)
	expectStatus(t, resp, http.StatusOK)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected served content %q", data)
	}

	resp = api.get("/uploads/leis/")
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("directory listing must not be served")
	}
	resp.Body.Close()

	name := "Lei Geral"
	resp = api.send(http.MethodPut, "/api/leis/"+law.ID, map[string]any{"nome": name})
	expectStatus(t, resp, http.StatusOK)
	updated := decode[compliance.Law](t, resp)
	if updated.Name != name || len(updated.ThemeIDs) != 2 {
		t.Fatalf("partial update lost fields: %+v", updated)
	}
}

func TestEvidenceAndAttachments(t *testing.T) {
	api := newTestAPI(t)
	p := api.projectWithRequirement()
	base := "/api/projetos/" + p.ID + "/temas/" + p.Themes[0].ID + "/requisitos/r1"

	resp := api.multipart(http.MethodPost, base+"/evidencias",
		map[string]string{"registro": "primeiro"},
		filePart{field: "anexo", name: "laudo.pdf", content: "a"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.multipart(http.MethodPost, base+"/evidencias",
		map[string]string{"registro": "segundo", "dataValidade": "2999-12-31"})
	expectStatus(t, resp, http.StatusCreated)
	got := decode[compliance.Project](t, resp)
	req := got.Themes[0].Requirements[0]
	if req.Evidence != "segundo" {
		t.Fatalf("evidence should be overwritten, got %q", req.Evidence)
	}
	if req.ExpiryDate == nil || req.ExpiryDate.Year() != 2999 {
		t.Fatalf("expiry not applied: %v", req.ExpiryDate)
	}

	resp = api.multipart(http.MethodPost, base+"/anexos", nil,
		filePart{field: "anexos", name: "b.pdf", content: "b"},
		filePart{field: "anexos", name: "c.pdf", content: "c"})
	expectStatus(t, resp, http.StatusCreated)
	got = decode[compliance.Project](t, resp)
	if n := len(got.Themes[0].Requirements[0].Attachments); n != 3 {
		t.Fatalf("expected 3 attachments, got %d", n)
	}

	resp = api.multipart(http.MethodPost, base+"/anexos", nil,
		filePart{field: "anexos", name: "d.pdf", content: "d"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get(base)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()

	resp = api.get(base + "/anexos/0/download")
	expectStatus(t, resp, http.StatusOK)
	info := decode[compliance.AttachmentDownload](t, resp)
	if info.Name != "laudo.pdf" || !strings.HasPrefix(info.URL, "http://files.test/uploads/evidencias/") {
		t.Fatalf("unexpected download info: %+v", info)
	}

	resp = api.get(base + "/anexos/7/download")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = api.get(base + "/anexos/x/download")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.send(http.MethodPut, base+"/evidencia", map[string]any{"evidencia": "texto novo"})
	expectStatus(t, resp, http.StatusOK)
	got = decode[compliance.Project](t, resp)
	if got.Themes[0].Requirements[0].Evidence != "texto novo" {
		t.Fatalf("evidence text not replaced")
	}
}

func TestTooManyFilesInOneRequest(t *testing.T) {
	api := newTestAPI(t)
	p := api.projectWithRequirement()
	base := "/api/projetos/" + p.ID + "/temas/" + p.Themes[0].ID + "/requisitos/r1"

	resp := api.multipart(http.MethodPost, base+"/anexos", nil,
		filePart{field: "anexos", name: "1.pdf", content: "1"},
		filePart{field: "anexos", name: "2.pdf", content: "2"},
		filePart{field: "anexos", name: "3.pdf", content: "3"},
		filePart{field: "anexos", name: "4.pdf", content: "4"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/api/projetos/" + p.ID)
	got := decode[compliance.Project](t, resp)
	if n := len(got.Themes[0].Requirements[0].Attachments); n != 0 {
		t.Fatalf("rejected upload must not store attachments, got %d", n)
	}
}

func TestRequirementStatusAndExpiry(t *testing.T) {
	api := newTestAPI(t)
	p := api.projectWithRequirement()
	path := "/api/projetos/" + p.ID + "/temas/" + p.Themes[0].ID + "/requisitos/r1"

	resp := api.send(http.MethodPut, path, map[string]any{"status": "done"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.send(http.MethodPut, path, map[string]any{"status": "concluido", "dataValidade": "2999-01-01"})
	expectStatus(t, resp, http.StatusOK)
	got := decode[compliance.Project](t, resp)
	if got.Themes[0].Requirements[0].Status != compliance.StatusDone {
		t.Fatalf("future expiry should keep concluido")
	}

	resp = api.send(http.MethodPut, path, map[string]any{"dataValidade": "2020-01-01"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/projetos/" + p.ID)
	expectStatus(t, resp, http.StatusOK)
	got = decode[compliance.Project](t, resp)
	if got.Themes[0].Requirements[0].Status != compliance.StatusPending {
		t.Fatalf("expired requirement should read as pendente")
	}

	resp = api.send(http.MethodPut, path, map[string]any{"dataValidade": "31/12/2020"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAttachThemeAndAddRequirement(t *testing.T) {
	api := newTestAPI(t)
	theme := api.createTheme("Resíduos")
	resp := api.send(http.MethodPost, "/api/projetos", map[string]any{"nome": "Obra", "temas": []map[string]any{{"nome": "Geral"}}})
	expectStatus(t, resp, http.StatusCreated)
	p := decode[compliance.Project](t, resp)

	resp = api.send(http.MethodPost, "/api/projetos/"+p.ID+"/temas", map[string]any{"temaId": theme.ID})
	expectStatus(t, resp, http.StatusCreated)
	p = decode[compliance.Project](t, resp)
	if len(p.Themes) != 2 || p.Themes[1].ThemeID != theme.ID {
		t.Fatalf("theme not attached: %+v", p.Themes)
	}

	resp = api.send(http.MethodPost, "/api/projetos/"+p.ID+"/temas", map[string]any{"temaId": theme.ID})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	reqPath := "/api/projetos/" + p.ID + "/temas/" + p.Themes[1].ID + "/requisitos"
	resp = api.send(http.MethodPost, reqPath, map[string]any{"nome": "PGRS"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
	resp = api.send(http.MethodPost, reqPath, map[string]any{"nome": "PGRS"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.get(reqPath)
	expectStatus(t, resp, http.StatusOK)
	reqs := decode[[]compliance.RequirementInstance](t, resp)
	if len(reqs) != 1 || !strings.HasPrefix(reqs[0].ID, "req-") {
		t.Fatalf("unexpected instance requirements: %+v", reqs)
	}

	resp = api.do(http.MethodDelete, "/api/projetos/"+p.ID, nil, "")
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = api.do(http.MethodDelete, "/api/projetos/"+p.ID, nil, "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestRequirementsByThemeReference(t *testing.T) {
	api := newTestAPI(t)
	theme := api.createTheme("Segurança")
	resp := api.send(http.MethodPost, "/api/requisitos", map[string]any{"nome": "Política de senhas", "temaId": theme.ID})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.get("/api/requisitos/tema/" + theme.ID)
	expectStatus(t, resp, http.StatusOK)
	standalone := decode[[]compliance.Requirement](t, resp)
	if len(standalone) != 1 || standalone[0].ThemeID != theme.ID {
		t.Fatalf("unexpected standalone list: %+v", standalone)
	}

	resp = api.send(http.MethodPost, "/api/projetos", map[string]any{"nome": "Obra", "temas": []map[string]any{{"nome": "Geral"}}})
	expectStatus(t, resp, http.StatusCreated)
	p := decode[compliance.Project](t, resp)
	resp = api.send(http.MethodPost, "/api/projetos/"+p.ID+"/temas", map[string]any{"temaId": theme.ID})
	expectStatus(t, resp, http.StatusCreated)
	p = decode[compliance.Project](t, resp)
	instanceID := p.Themes[1].ID
	resp = api.send(http.MethodPost, "/api/projetos/"+p.ID+"/temas/"+instanceID+"/requisitos", map[string]any{"nome": "Backup"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	for _, q := range []string{
		"/api/requisitos/tema/" + theme.ID + "?projeto=" + p.ID,
		"/api/requisitos/tema/" + instanceID + "?projeto=" + p.ID + "&tipo=instancia",
	} {
		resp = api.get(q)
		expectStatus(t, resp, http.StatusOK)
		reqs := decode[[]compliance.RequirementInstance](t, resp)
		if len(reqs) != 1 || reqs[0].Name != "Backup" {
			t.Fatalf("%s: unexpected list %+v", q, reqs)
		}
	}

	resp = api.get("/api/requisitos/tema/" + instanceID + "?tipo=instancia")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
	resp = api.get("/api/requisitos/tema/" + instanceID + "?projeto=" + p.ID + "&tipo=outro")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

type brokenStore struct{}

func (brokenStore) View(context.Context, func(compliance.Tx) error) error {
	return errors.New("connection refused")
}

func (brokenStore) Update(context.Context, func(compliance.Tx) error) error {
	return errors.New("connection refused")
}

func TestInternalErrorsAreRedacted(t *testing.T) {
	prod := newTestAPI(t, func(o *testOptions) {
		o.store = brokenStore{}
		o.development = false
	})
	resp := prod.get("/api/leis")
	expectStatus(t, resp, http.StatusInternalServerError)
	if body := decode[map[string]any](t, resp); body["error"] != "internal error" {
		t.Fatalf("expected redacted message, got %v", body["error"])
	}

	dev := newTestAPI(t, func(o *testOptions) { o.store = brokenStore{} })
	resp = dev.get("/api/leis")
	expectStatus(t, resp, http.StatusInternalServerError)
	if body := decode[map[string]any](t, resp); !strings.Contains(body["error"].(string), "connection refused") {
		t.Fatalf("expected raw message in development, got %v", body["error"])
	}
}

func TestProjectEventsStream(t *testing.T) {
	api := newTestAPI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/api/projetos/eventos", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	waitFor := func(prefix string) string {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}
	waitFor(": connected")

	created := api.send(http.MethodPost, "/api/projetos", map[string]any{"nome": "Evento", "temas": []map[string]any{{"nome": "Geral"}}})
	expectStatus(t, created, http.StatusCreated)
	p := decode[compliance.Project](t, created)

	if line := waitFor("event: "); line != "event: projeto.criado" {
		t.Fatalf("unexpected event line %q", line)
	}
	data := strings.TrimPrefix(waitFor("data: "), "data: ")
	var evt stream.Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.ProjectID != p.ID {
		t.Fatalf("event for %q, want %q", evt.ProjectID, p.ID)
	}
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/api/nada")
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[map[string]any](t, resp); body["error"] != "resource not found" {
		t.Fatalf("unexpected body %v", body)
	}
}
