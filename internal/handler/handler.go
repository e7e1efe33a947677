// Package handler implements request dispatch (§4.8): method checks,
// keep-alive policy, and the GET/POST/DELETE behaviors a matched,
// non-CGI request resolves to. CGI requests are detected by the caller
// (router.Match.IsCGI) and handed to internal/cgi instead of Serve.
package handler

import (
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/mossab7/web-server/internal/config"
	"github.com/mossab7/web-server/internal/errorpages"
	"github.com/mossab7/web-server/internal/httpparser"
	"github.com/mossab7/web-server/internal/httpresponse"
	"github.com/mossab7/web-server/internal/router"
)

// Handler dispatches one matched request at a time to a Response. It
// carries no per-request state; a single Handler is shared across every
// connection bound to its server block.
type Handler struct {
	server     *config.Server
	errorPages *errorpages.Catalog
	log        *zap.Logger
}

// New builds a Handler for one server block, sharing the process-wide
// default error-page catalog unless overridden per-server by config.
func New(server *config.Server, catalog *errorpages.Catalog, log *zap.Logger) *Handler {
	return &Handler{server: server, errorPages: catalog, log: log.Named("handler")}
}

// KeepAlive reports whether the connection should remain open after this
// response: HTTP/1.1 defaults to keep-alive, HTTP/1.0 defaults to close,
// and an explicit Connection header always wins either way (§4.8).
func KeepAlive(p *httpparser.Parser) bool {
	if conn, ok := p.Header("connection"); ok {
		if strings.EqualFold(conn, "close") {
			return false
		}
		if strings.EqualFold(conn, "keep-alive") {
			return true
		}
	}
	return p.Version == "HTTP/1.1"
}

// Serve dispatches a fully-routed, non-CGI request into resp. Callers
// must check m.IsCGI before calling Serve and route CGI requests to
// internal/cgi instead (§4.8 step 1: method check comes before dispatch,
// but routing/CGI detection happens one level up in the connection).
func (h *Handler) Serve(reqPath string, m router.Match, p *httpparser.Parser, resp *httpresponse.Response) {
	if !m.Valid {
		h.ServeError(resp, 404)
		return
	}
	if !m.MethodAllowed {
		h.ServeError(resp, 405)
		return
	}
	if m.IsRedirect {
		h.serveRedirect(resp, m.RedirectURL)
		return
	}

	switch p.Method {
	case "GET":
		h.serveGet(reqPath, m, resp)
	case "POST":
		h.servePost(m, p, resp)
	case "DELETE":
		h.serveDelete(m, resp)
	default:
		h.ServeError(resp, 501)
	}
}

func (h *Handler) serveRedirect(resp *httpresponse.Response, location string) {
	resp.StartLine(301)
	resp.AddHeader("Location", location)
	resp.SetBody(nil, "text/plain")
}

func (h *Handler) serveGet(reqPath string, m router.Match, resp *httpresponse.Response) {
	if !m.DoesExist {
		h.ServeError(resp, 404)
		return
	}
	if m.IsDirectory {
		h.serveDirectory(reqPath, m, resp)
		return
	}
	h.serveFile(m.ResolvedPath, resp)
}

// serveDirectory implements "_serveDict" (§4.8): try each configured
// index file in turn, then fall back to autoindex if enabled, else 403.
func (h *Handler) serveDirectory(reqPath string, m router.Match, resp *httpresponse.Response) {
	for _, idx := range m.IndexFiles {
		candidate := path.Join(m.ResolvedPath, idx)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			h.serveFile(candidate, resp)
			return
		}
	}
	if m.Autoindex {
		h.serveAutoindex(reqPath, m, resp)
		return
	}
	h.ServeError(resp, 403)
}

func (h *Handler) serveAutoindex(reqPath string, m router.Match, resp *httpresponse.Response) {
	body, err := renderAutoindex(reqPath, m.ResolvedPath)
	if err != nil {
		h.log.Warn("autoindex render failed", zap.String("path", m.ResolvedPath), zap.Error(err))
		h.ServeError(resp, 500)
		return
	}
	resp.StartLine(200)
	resp.SetBody(body, "text/html")
}

// serveFile implements "_serveFile" (§4.8): attach the file to the
// response for streamed transmission. AttachFile itself stats the path
// and emits content-type/content-length; any failure (missing, directory,
// permission) falls through to the 403 error page.
func (h *Handler) serveFile(fsPath string, resp *httpresponse.Response) {
	resp.StartLine(200)
	if err := resp.AttachFile(fsPath); err != nil {
		h.log.Warn("attach file failed", zap.String("path", fsPath), zap.Error(err))
		h.ServeError(resp, 403)
		return
	}
}

// servePost handles non-CGI uploads. Multipart bodies are written to
// UploadDir part-by-part as they stream through internal/multipart;
// non-multipart bodies are written whole by the bodyHandler the
// connection installs on the request parser. By the time Serve runs the
// body is already fully on disk, so all that remains is to confirm it.
func (h *Handler) servePost(m router.Match, p *httpparser.Parser, resp *httpresponse.Response) {
	if m.UploadDir == "" {
		h.ServeError(resp, 403)
		return
	}
	resp.StartLine(201)
	resp.SetBody([]byte("Upload complete\n"), "text/plain")
}

func (h *Handler) serveDelete(m router.Match, resp *httpresponse.Response) {
	if !m.DoesExist {
		h.ServeError(resp, 404)
		return
	}
	if m.IsDirectory {
		h.ServeError(resp, 403)
		return
	}
	if err := os.Remove(m.ResolvedPath); err != nil {
		h.log.Warn("delete failed", zap.String("path", m.ResolvedPath), zap.Error(err))
		h.ServeError(resp, 500)
		return
	}
	resp.StartLine(204)
	resp.EndHeaders()
}

// ServeError resets resp and renders code: a per-server custom error
// page file if configured, else the built-in catalog page (§4.8 error
// response helper). Exported so internal/connection can render fault
// responses (CGI faults included) without duplicating the fallback logic.
func (h *Handler) ServeError(resp *httpresponse.Response, code int) {
	resp.Reset()
	if customPath, ok := h.server.ErrorPages[code]; ok {
		resp.StartLine(code)
		if err := resp.AttachFile(customPath); err == nil {
			return
		}
		resp.Reset()
	}
	resp.StartLine(code)
	resp.SetBody([]byte(h.errorPages.Page(code)), "text/html")
}
