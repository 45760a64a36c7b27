package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pzserve/pzserve/internal/metrics"
	"github.com/pzserve/pzserve/internal/trace"
)

const websocketCloseTimeout = 10 * time.Second

// Handshake headers the dialer generates itself; forwarding the inbound
// copies would corrupt the outbound handshake.
var websocketHandshakeHeaders = []string{
	"Upgrade",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Protocol",
}

// handleWebsocket bridges an upgrade request under the API prefix to the
// backend: dial the backend first, then upgrade the client, then relay
// frames both ways until either side closes.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, info trace.Info) {
	target := websocketURL(s.upstreamURL(r))

	header := filterHeaders(r.Header, hopByHopRequestHeaders)
	for _, name := range websocketHandshakeHeaders {
		header.Del(name)
	}

	dialer := *s.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	s.logger.Info(fmt.Sprintf("%s → WS %s", trace.ColoredID(info.ID), target))

	upstream, resp, err := dialer.DialContext(r.Context(), target, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		s.metrics.RecordUpstreamError()
		s.logger.Error("websocket dial failed", "error", err, "url", target)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		s.finishWebsocket(r, info, http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response; the session
		// failed between two successful legs, which is on us.
		s.logger.Error("client websocket upgrade failed", "error", err, "url", target)
		s.finishWebsocket(r, info, http.StatusInternalServerError)
		return
	}
	defer client.Close()

	s.metrics.RecordWebsocketSession()
	s.finishWebsocket(r, info, http.StatusSwitchingProtocols)

	errc := make(chan error, 2)
	go func() { errc <- relayFrames(client, upstream) }()
	go func() { errc <- relayFrames(upstream, client) }()

	// First error ends the session; closing both conns via the deferred
	// Closes unblocks the other relay.
	<-errc

	s.logger.Info(fmt.Sprintf("%s ← WS closed (%dms)",
		trace.ColoredID(info.ID), time.Since(info.Started).Milliseconds()))
}

func (s *Server) finishWebsocket(r *http.Request, info trace.Info, status int) {
	elapsed := time.Since(info.Started)
	s.logger.Info(fmt.Sprintf("%s ← %s %d (%dms)",
		trace.ColoredID(info.ID), r.Method, status, elapsed.Milliseconds()))
	s.metrics.RecordRequest(metrics.ClassWebsocket, r.Method, status, elapsed.Seconds())
}

// relayFrames copies messages from src to dst until src fails or closes,
// propagating the close code when one was received.
func relayFrames(src, dst *websocket.Conn) error {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if closeErr, ok := err.(*websocket.CloseError); ok && closeErr.Code != websocket.CloseNoStatusReceived {
				message = websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)
			}
			deadline := time.Now().Add(websocketCloseTimeout)
			_ = dst.WriteControl(websocket.CloseMessage, message, deadline)
			return err
		}

		if err := dst.WriteMessage(messageType, data); err != nil {
			return err
		}
	}
}

// websocketURL converts an http(s) upstream URL to its ws(s) counterpart.
func websocketURL(httpURL string) string {
	if rest, ok := strings.CutPrefix(httpURL, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(httpURL, "http://"); ok {
		return "ws://" + rest
	}
	return httpURL
}
