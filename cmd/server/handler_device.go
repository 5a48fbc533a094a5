package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/avaropoint/espota/internal/logsink"
	"github.com/avaropoint/espota/internal/ota"
	"github.com/avaropoint/espota/internal/registry"
)

// staMACSuffix identifies the header ESP8266 httpUpdate uses to report the
// station MAC (x-ESP8266-STA-MAC).
const staMACSuffix = "STA-MAC"

// staMAC returns the first header value whose name ends in STA-MAC.
func staMAC(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasSuffix(strings.ToUpper(k), staMACSuffix) && len(h[k]) > 0 {
			return h[k][0]
		}
	}
	return ""
}

// handleUpdate answers a device update check and streams the binary when
// one is due.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ota.CheckRequest{
		Platform: q.Get("dev"),
		Version:  q.Get("ver"),
		MAC:      staMAC(r.Header),
	}

	d, err := s.svc.CheckUpdate(r.Context(), req)
	if err != nil {
		s.metrics.UpdateChecks.WithLabelValues(ota.KindOf(err).String()).Inc()
		if ota.KindOf(err) == ota.KindUnauthorized {
			s.log.Warn().Str("platform", req.Platform).Str("mac", registry.FormatMAC(registry.NormalizeMAC(req.MAC))).
				Msg("update check from unlisted device")
		}
		s.writeError(w, err)
		return
	}
	if !d.UpdateAvailable {
		s.metrics.UpdateChecks.WithLabelValues("current").Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	s.metrics.UpdateChecks.WithLabelValues("served").Inc()
	s.metrics.Downloads.WithLabelValues(d.Binary.Platform).Inc()
	if err := s.serveBinary(w, d.Binary); err != nil {
		s.log.Error().Err(err).Str("file", d.Binary.File).Msg("serve binary")
	}
}

func (s *Server) serveBinary(w http.ResponseWriter, b ota.BinaryRef) error {
	f, err := os.Open(b.Path)
	if err != nil {
		// Replaced by a concurrent publish.
		s.writeError(w, ota.ErrBinaryMissing)
		return err
	}
	defer f.Close() //nolint:errcheck

	fi, err := f.Stat()
	if err != nil {
		s.writeError(w, ota.ErrBinaryMissing)
		return err
	}
	sum, err := s.svc.Binaries().MD5(b.File)
	if err != nil {
		s.writeError(w, ota.ErrBinaryMissing)
		return err
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.File))
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.Header().Set("x-MD5", sum)
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, f)
	return err
}

// handleOTAArgs returns the effective OTA arguments for the calling device
// as plain text. An empty body means none are set.
func (s *Server) handleOTAArgs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args, _, err := s.svc.LookupOTAArgs(r.Context(), q.Get("dev"), q.Get("ver"), staMAC(r.Header))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, args) //nolint:errcheck
}

// handleLog appends the request body to the device's log stream and
// returns the stream key. Oversized bodies are rejected whole.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, logBodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("log body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	key, err := s.logs.Ingest(r.URL.Query().Get("id"), string(body))
	if errors.Is(err, logsink.ErrInvalidIdentity) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, key) //nolint:errcheck
}
