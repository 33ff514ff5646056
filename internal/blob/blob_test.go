package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPath(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	p, err := objectPath("evidencias", "../../etc/relatório final.pdf", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "uploads/evidencias/1700000000123-"), p)
	assert.True(t, strings.HasSuffix(p, "-relatório_final.pdf"), p)
	assert.NotContains(t, p, "..")

	_, err = objectPath("../x", "a", now)
	assert.ErrorIs(t, err, errBadCategory)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "file", sanitize(".."))
	assert.Equal(t, "a_b.txt", sanitize(`C:\docs\a b.txt`))
}

func TestRelativeRejectsTraversal(t *testing.T) {
	for _, p := range []string{"uploads/../secret", "/etc/passwd", "uploads", "uploads/"} {
		_, err := relative(p)
		assert.ErrorIs(t, err, errBadPath, p)
	}
	rel, err := relative("uploads/leis/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "leis/x.pdf", rel)
}

func TestLocalPutDeleteURL(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "http://localhost:3000/")
	ctx := context.Background()

	stored, err := l.Put(ctx, "evidencias", "laudo.pdf", strings.NewReader("conteudo"))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(stored, "uploads/")))
	require.NoError(t, err)
	assert.Equal(t, "conteudo", string(data))

	u, err := l.URL(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/"+stored, u)

	require.NoError(t, l.Delete(ctx, stored))
	require.NoError(t, l.Delete(ctx, stored), "deleting a missing file is not an error")
	assert.Error(t, l.Delete(ctx, "uploads/../../x"))
}

func TestLocalConcurrentPutsShareDirectory(t *testing.T) {
	l := NewLocal(t.TempDir(), "")
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Put(context.Background(), "evidencias", "same.txt", strings.NewReader("x"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestLocalHandlerServesFilesOnly(t *testing.T) {
	l := NewLocal(t.TempDir(), "")
	stored, err := l.Put(context.Background(), "leis", "lei.txt", strings.NewReader("texto"))
	require.NoError(t, err)

	srv := httptest.NewServer(l.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/" + stored)
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "texto", string(body))

	res, err = http.Get(srv.URL + "/uploads/leis/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
