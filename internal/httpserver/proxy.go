package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/pzserve/pzserve/internal/metrics"
	"github.com/pzserve/pzserve/internal/trace"
)

// Connection-leg-specific headers stripped before forwarding. The request
// list additionally drops Accept-Encoding so the outbound transport
// negotiates (and transparently decodes) its own encoding, and the response
// list drops the encoding/framing headers that no longer match the decoded,
// re-chunked body relayed to the client.
var (
	hopByHopRequestHeaders  = []string{"Host", "Accept-Encoding", "Connection", "Keep-Alive"}
	hopByHopResponseHeaders = []string{"Transfer-Encoding", "Content-Encoding", "Connection", "Keep-Alive"}
)

var apiTag = color.New(color.FgYellow)

// handleProxy forwards one API request to the backend: buffered request
// body out, streamed response body back.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(r)

	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebsocket(w, r, info)
		return
	}

	fullURL := s.upstreamURL(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("failed to read request body", "error", err, "url", fullURL)
		http.Error(w, "bad request", http.StatusBadRequest)
		s.finishProxy(r, info, http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, fullURL, bytes.NewReader(body))
	if err != nil {
		s.metrics.RecordUpstreamError()
		s.logger.Error("failed to build API request", "error", err, "url", fullURL)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		s.finishProxy(r, info, http.StatusBadGateway)
		return
	}
	req.Header = filterHeaders(r.Header, hopByHopRequestHeaders)
	req.ContentLength = int64(len(body))

	s.logger.Info(fmt.Sprintf("%s → %s %s", trace.ColoredID(info.ID), apiTag.Sprint("API"), fullURL))
	upstreamStart := time.Now()

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordUpstreamError()
		s.logger.Error("API request failed", "error", err, "url", fullURL)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		s.finishProxy(r, info, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	upstreamLatency := time.Since(upstreamStart)
	s.metrics.RecordUpstreamLatency(upstreamLatency.Seconds())
	s.logger.Info(fmt.Sprintf("%s ← %s %d (%dms)",
		trace.ColoredID(info.ID), apiTag.Sprint("API"), resp.StatusCode, upstreamLatency.Milliseconds()))

	header := w.Header()
	for name, values := range filterHeaders(resp.Header, hopByHopResponseHeaders) {
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	// Total latency covers inbound arrival to response-header completion;
	// body streaming happens after the books are closed.
	s.finishProxy(r, info, resp.StatusCode)

	if err := streamBody(w, resp.Body); err != nil {
		// Usually the client going away mid-stream; the backend
		// connection is released by the deferred Close.
		s.logger.Debug("response stream aborted", "error", err, "url", fullURL)
	}
}

func (s *Server) finishProxy(r *http.Request, info trace.Info, status int) {
	elapsed := time.Since(info.Started)
	s.logger.Info(fmt.Sprintf("%s ← %s %d (%dms)",
		trace.ColoredID(info.ID), r.Method, status, elapsed.Milliseconds()))
	s.metrics.RecordRequest(metrics.ClassProxy, r.Method, status, elapsed.Seconds())
}

// upstreamURL rebuilds the backend URL for an inbound API request.
func (s *Server) upstreamURL(r *http.Request) string {
	proxiedPath := strings.TrimPrefix(r.URL.Path, s.cfg.APIPathPrefix)
	return buildAPIURL(s.cfg.APIBaseURL, s.cfg.APIPathPrefix, proxiedPath, r.URL.RawQuery)
}

// buildAPIURL composes base + prefix + "/" + path, with the path's own
// leading slashes stripped so no double slash precedes the path segment.
// The query string is appended verbatim, never re-encoded.
func buildAPIURL(base, prefix, path, query string) string {
	u := base + prefix + "/" + strings.TrimLeft(path, "/")
	if query != "" {
		u += "?" + query
	}
	return u
}

// filterHeaders returns a copy of in minus the dropped names
// (case-insensitive). All other headers pass through unchanged, duplicates
// included.
func filterHeaders(in http.Header, drop []string) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		if headerInList(name, drop) {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func headerInList(name string, list []string) bool {
	for _, candidate := range list {
		if strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}

// streamBody relays the backend body to the client incrementally, flushing
// after every chunk so long-lived responses (SSE, log tails) propagate
// without buffering.
func streamBody(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
