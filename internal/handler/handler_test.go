package handler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossab7/web-server/internal/config"
	"github.com/mossab7/web-server/internal/errorpages"
	"github.com/mossab7/web-server/internal/httpparser"
	"github.com/mossab7/web-server/internal/httpresponse"
	"github.com/mossab7/web-server/internal/logging"
	"github.com/mossab7/web-server/internal/router"
)

func testHandler(t *testing.T, srv *config.Server) *Handler {
	t.Helper()
	log, err := logging.New(false)
	require.NoError(t, err)
	return New(srv, errorpages.Default(), log)
}

func drainResp(t *testing.T, r *httpresponse.Response) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 512)
	for {
		n, err := r.ReadNextChunk(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return string(out)
}

func TestKeepAliveDefaults(t *testing.T) {
	p11 := httpparser.New()
	p11.Version = "HTTP/1.1"
	assert.True(t, KeepAlive(p11))

	p10 := httpparser.New()
	p10.Version = "HTTP/1.0"
	assert.False(t, KeepAlive(p10))
}

func TestKeepAliveExplicitHeaderOverrides(t *testing.T) {
	p := httpparser.New()
	p.Version = "HTTP/1.1"
	p.Headers["connection"] = "close"
	assert.False(t, KeepAlive(p))

	p2 := httpparser.New()
	p2.Version = "HTTP/1.0"
	p2.Headers["connection"] = "keep-alive"
	assert.True(t, KeepAlive(p2))
}

func TestServeGetMissingFileRendersCatalog404(t *testing.T) {
	dir := t.TempDir()
	srv := &config.Server{Root: dir, ErrorPages: map[int]string{}}
	h := testHandler(t, srv)

	p := httpparser.New()
	p.Method = "GET"
	resp := httpresponse.New("HTTP/1.1")

	m := router.Match{Valid: true, MethodAllowed: true, ResolvedPath: filepath.Join(dir, "nope.txt")}
	h.Serve("/nope.txt", m, p, resp)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 404")
	assert.Contains(t, out, "404")
}

func TestServeGetServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi there"), 0o644))

	srv := &config.Server{Root: dir, ErrorPages: map[int]string{}}
	h := testHandler(t, srv)

	p := httpparser.New()
	p.Method = "GET"
	resp := httpresponse.New("HTTP/1.1")

	m := router.Match{Valid: true, MethodAllowed: true, DoesExist: true, IsFile: true, ResolvedPath: path}
	h.Serve("/hello.txt", m, p, resp)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 200")
	assert.Contains(t, out, "hi there")
}

func TestServeRedirectAnswersMovedPermanently(t *testing.T) {
	srv := &config.Server{Root: t.TempDir(), ErrorPages: map[int]string{}}
	h := testHandler(t, srv)

	p := httpparser.New()
	p.Method = "GET"
	resp := httpresponse.New("HTTP/1.1")

	m := router.Match{Valid: true, MethodAllowed: true, IsRedirect: true, RedirectURL: "/pub/"}
	h.Serve("/pub", m, p, resp)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 301")
	assert.Contains(t, out, "Location: /pub/")
}

func TestServeMethodNotAllowed(t *testing.T) {
	srv := &config.Server{Root: t.TempDir(), ErrorPages: map[int]string{}}
	h := testHandler(t, srv)

	p := httpparser.New()
	p.Method = "DELETE"
	resp := httpresponse.New("HTTP/1.1")

	m := router.Match{Valid: true, MethodAllowed: false}
	h.Serve("/x", m, p, resp)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 405")
}

func TestServeDirectoryAutoindexListsEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	srv := &config.Server{Root: dir, ErrorPages: map[int]string{}}
	h := testHandler(t, srv)

	p := httpparser.New()
	p.Method = "GET"
	resp := httpresponse.New("HTTP/1.1")

	m := router.Match{
		Valid: true, MethodAllowed: true, DoesExist: true, IsDirectory: true,
		ResolvedPath: dir, Autoindex: true,
	}
	h.Serve("/", m, p, resp)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 200")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "sub/")
}

func TestServeDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	srv := &config.Server{Root: dir, ErrorPages: map[int]string{}}
	h := testHandler(t, srv)

	p := httpparser.New()
	p.Method = "DELETE"
	resp := httpresponse.New("HTTP/1.1")

	m := router.Match{Valid: true, MethodAllowed: true, DoesExist: true, IsFile: true, ResolvedPath: path}
	h.Serve("/doomed.txt", m, p, resp)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 204")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestServeErrorPrefersCustomPageOverCatalog(t *testing.T) {
	dir := t.TempDir()
	customPath := filepath.Join(dir, "404.html")
	require.NoError(t, os.WriteFile(customPath, []byte("<p>nope, custom</p>"), 0o644))

	srv := &config.Server{Root: dir, ErrorPages: map[int]string{404: customPath}}
	h := testHandler(t, srv)

	resp := httpresponse.New("HTTP/1.1")
	h.ServeError(resp, 404)

	out := drainResp(t, resp)
	assert.Contains(t, out, "HTTP/1.1 404")
	assert.Contains(t, out, "nope, custom")
}
