package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"ecolex.org/internal/auth"
	"ecolex.org/internal/compliance"
	"ecolex.org/internal/config"
)

// smoke walks the LGPD scenario against a running API: theme, law, project,
// requirement completion and cleanup.
type smoke struct {
	base   string
	token  string
	client *http.Client
}

func main() {
	cfg, _ := config.Load(".env")
	if cfg == nil {
		log.Fatal("cannot read configuration")
	}
	base := cfg.BaseURL
	if v := os.Getenv("ECOLEX_SMOKE_URL"); v != "" {
		base = v
	}

	s := &smoke{base: base, client: &http.Client{Timeout: 10 * time.Second}}
	if cfg.AuthSecret != "" {
		signer, err := auth.NewSigner(cfg.AuthSecret)
		if err != nil {
			log.Fatalf("signer: %v", err)
		}
		if s.token, err = signer.GenerateToken("smoke", []string{auth.RoleEditor}, 5*time.Minute); err != nil {
			log.Fatalf("token: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suffix := uuid.NewString()[:8]

	var theme compliance.Theme
	s.must(ctx, http.MethodPost, "/api/temas", map[string]any{"nome": "Segurança " + suffix}, http.StatusCreated, &theme)

	var law compliance.Law
	s.must(ctx, http.MethodPost, "/api/leis", map[string]any{
		"nome": "LGPD " + suffix, "link": "https://www.planalto.gov.br/lgpd", "temas": []string{theme.ID},
	}, http.StatusCreated, &law)

	var project compliance.Project
	s.must(ctx, http.MethodPost, "/api/projetos", map[string]any{
		"nome": "Smoke " + suffix,
		"temas": []map[string]any{{
			"temaId": theme.ID,
			"nome":   theme.Name,
			"requisitos": []map[string]any{{
				"nome": "Req1", "status": "pendente", "leisIds": []string{law.ID},
			}},
		}},
	}, http.StatusCreated, &project)
	if len(project.Themes) != 1 || len(project.Themes[0].Requirements) != 1 {
		log.Fatalf("project shape unexpected: %+v", project)
	}

	ti := project.Themes[0]
	req := ti.Requirements[0]
	reqPath := fmt.Sprintf("/api/projetos/%s/temas/%s/requisitos/%s", project.ID, ti.ID, req.ID)

	s.must(ctx, http.MethodPost, reqPath+"/evidencias", map[string]any{"registro": "relatório anual"}, http.StatusCreated, nil)

	var updated compliance.Project
	s.must(ctx, http.MethodPut, reqPath, map[string]any{
		"status": "concluido", "dataValidade": time.Now().AddDate(1, 0, 0).Format(time.DateOnly),
	}, http.StatusOK, &updated)
	done := updated.Themes[0].Requirements[0]
	if done.Status != compliance.StatusDone || done.ExpiryDate == nil {
		log.Fatalf("requirement was not completed: %+v", done)
	}

	var byTheme []compliance.RequirementInstance
	s.must(ctx, http.MethodGet, fmt.Sprintf("/api/requisitos/tema/%s?projeto=%s&tipo=instancia", ti.ID, project.ID), nil, http.StatusOK, &byTheme)
	if len(byTheme) != 1 {
		log.Fatalf("expected one requirement for the theme instance, got %d", len(byTheme))
	}

	s.must(ctx, http.MethodDelete, "/api/projetos/"+project.ID, nil, http.StatusNoContent, nil)
	s.must(ctx, http.MethodDelete, "/api/leis/"+law.ID, nil, http.StatusNoContent, nil)
	s.must(ctx, http.MethodDelete, "/api/temas/"+theme.ID, nil, http.StatusNoContent, nil)

	fmt.Printf("✅ ecolex smoke test passed against %s: project=%s law=%s\n", s.base, project.ID, law.ID)
}

func (s *smoke) must(ctx context.Context, method, path string, body any, want int, out any) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rdr)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
