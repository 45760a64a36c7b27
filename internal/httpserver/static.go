package httpserver

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/pzserve/pzserve/internal/metrics"
	"github.com/pzserve/pzserve/internal/trace"
)

const genericContentType = "application/octet-stream"

var staticTag = color.New(color.FgGreen)

// handleStatic maps the URL path onto the static root and serves the file.
// Any read failure collapses to 404; no filesystem detail reaches the
// client.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(r)

	if hasDotDotSegment(r.URL.Path) {
		s.finishStatic(w, r, info, http.StatusNotFound, nil, "")
		return
	}

	path := resolveStaticPath(s.cfg.StaticRoot, r.URL.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		s.finishStatic(w, r, info, http.StatusNotFound, nil, "")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = genericContentType
	}

	s.finishStatic(w, r, info, http.StatusOK, content, contentType)
}

func (s *Server) finishStatic(w http.ResponseWriter, r *http.Request, info trace.Info, status int, body []byte, contentType string) {
	if status == http.StatusOK {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	} else {
		http.NotFound(w, r)
	}

	elapsed := time.Since(info.Started)
	s.logger.Info(fmt.Sprintf("%s ← %s %d (%dms)",
		trace.ColoredID(info.ID), staticTag.Sprint("STATIC"), status, elapsed.Milliseconds()))
	s.metrics.RecordRequest(metrics.ClassStatic, r.Method, status, elapsed.Seconds())
}

// resolveStaticPath strips a single leading slash from the URL path and
// joins the remainder onto the root. A path naming a directory resolves to
// its index.html.
func resolveStaticPath(root, urlPath string) string {
	path := root + "/" + strings.TrimPrefix(urlPath, "/")

	if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = strings.TrimSuffix(path, "/") + "/index.html"
	}

	return path
}

// hasDotDotSegment reports whether the URL path contains a ".." segment.
// Such paths could otherwise escape the static root.
func hasDotDotSegment(urlPath string) bool {
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
