package main

import (
	"errors"
	"net/http"

	"github.com/avaropoint/espota/internal/logsink"
	"github.com/avaropoint/espota/internal/protocol"
	"github.com/avaropoint/espota/internal/viewer"
)

// handleTail streams a device log over WebSocket until either side closes.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	key, err := logsink.StreamKey(r.URL.Query().Get("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, cancel := s.logs.Subscribe(key)
	defer cancel()

	conn, err := protocol.Upgrade(w, r)
	if err != nil {
		s.log.Warn().Err(err).Msg("tail upgrade failed")
		writeJSONError(w, http.StatusBadRequest, "websocket upgrade failed")
		return
	}
	s.log.Info().Str("stream", key).Str("remote", r.RemoteAddr).Msg("tail connected")

	hello, _ := protocol.NewMessage(protocol.TypeHello, protocol.Hello{Stream: key, File: s.logs.Path(key)})
	if err := conn.WriteMessage(hello); err != nil {
		conn.Close(protocol.CloseInternal, "") //nolint:errcheck
		return
	}

	// The client only sends control frames; a read error means it is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				conn.Close(protocol.CloseNormal, "") //nolint:errcheck
				return
			}
			m, _ := protocol.NewMessage(protocol.TypeRecord, protocol.LogRecord{Stream: rec.Stream, Time: rec.Time, Line: rec.Line})
			if err := conn.WriteMessage(m); err != nil {
				conn.Close(protocol.CloseNormal, "") //nolint:errcheck
				return
			}
		case <-gone:
			conn.Close(protocol.CloseNormal, "") //nolint:errcheck
			s.log.Info().Str("stream", key).Msg("tail disconnected")
			return
		case <-s.done:
			conn.Close(protocol.CloseGoingAway, "server shutting down") //nolint:errcheck
			return
		}
	}
}

// handleWebConsole starts the external viewer for a log stream.
func (s *Server) handleWebConsole(w http.ResponseWriter, r *http.Request) {
	if s.viewer == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "log viewer not configured")
		return
	}
	key, err := logsink.StreamKey(r.URL.Query().Get("log"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	url, err := s.viewer.Start(key, s.logs.Path(key))
	if errors.Is(err, viewer.ErrNoLogFile) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("stream", key).Msg("start viewer")
		writeJSONError(w, http.StatusInternalServerError, "could not start log viewer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stream": key, "url": url})
}

type endLoggerResponse struct {
	Stopped bool   `json:"stopped"`
	Stream  string `json:"stream,omitempty"`
}

// handleEndLogger stops the external viewer and names the stream it was
// showing.
func (s *Server) handleEndLogger(w http.ResponseWriter, _ *http.Request) {
	var resp endLoggerResponse
	if s.viewer != nil {
		resp.Stream, _ = s.viewer.Running()
		resp.Stopped = s.viewer.Stop()
		if resp.Stopped {
			s.log.Info().Str("stream", resp.Stream).Msg("log viewer ended")
		} else {
			resp.Stream = ""
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
