package main

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/avaropoint/espota/internal/metrics"
	"github.com/avaropoint/espota/internal/ota"
	"github.com/avaropoint/espota/internal/store"
	"github.com/avaropoint/espota/internal/version"
)

// multipartMemory is how much of a multipart upload is held in memory.
const multipartMemory = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an operation error to its HTTP status.
func statusFor(err error) int {
	switch ota.KindOf(err) {
	case ota.KindInvalidInput:
		return http.StatusBadRequest
	case ota.KindUnauthorized:
		return http.StatusForbidden
	case ota.KindNotFound:
		return http.StatusNotFound
	case ota.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError converts err at the HTTP boundary. Persistence and unknown
// failures are logged with their detail and reported by reason only.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	var oe *ota.Error
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
		if errors.As(err, &oe) {
			msg = oe.Reason
		} else {
			msg = "internal error"
		}
	}
	writeJSONError(w, status, msg)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

func (s *Server) countAdmin(op string, err error) {
	s.metrics.AdminOps.WithLabelValues(op, metrics.Outcome(err)).Inc()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListPlatforms(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreatePlatform(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name, err := s.svc.CreatePlatform(r.Context(), req.Name)
	s.countAdmin("create", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) handleDeletePlatform(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.svc.DeletePlatform(r.Context(), name)
	s.countAdmin("delete", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !res.Deleted {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": false, "message": "platform not found"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var (
		blob     []byte
		platform = r.URL.Query().Get("platform")
		err      error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		blob, platform, err = readMultipartBinary(r, platform)
	} else {
		blob, err = io.ReadAll(r.Body)
	}
	if err != nil {
		s.metrics.Publishes.WithLabelValues("error").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Publish(r.Context(), ota.PublishRequest{Blob: blob, Platform: platform})
	s.metrics.Publishes.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// readMultipartBinary extracts the "file" part, which must be a .bin file.
func readMultipartBinary(r *http.Request, platform string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", err
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("missing file part")
	}
	defer f.Close() //nolint:errcheck
	if !strings.EqualFold(filepath.Ext(hdr.Filename), ".bin") {
		return nil, "", errors.New("only .bin files are accepted")
	}
	if p := r.FormValue("platform"); p != "" {
		platform = p
	}
	blob, err := io.ReadAll(f)
	return blob, platform, err
}

func (s *Server) handleAddAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MAC string `json:"mac"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.svc.AddAccessEntry(r.Context(), chi.URLParam(r, "name"), req.MAC)
	s.countAdmin("access_add", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveAccess(w http.ResponseWriter, r *http.Request) {
	err := s.svc.RemoveAccessEntry(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "mac"))
	s.countAdmin("access_remove", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type otaArgsRequest struct {
	OTAArgs string `json:"otaargs"`
}

func (s *Server) handleSetPlatformOTAArgs(w http.ResponseWriter, r *http.Request) {
	var req otaArgsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.svc.SetPlatformOTAArgs(r.Context(), chi.URLParam(r, "name"), req.OTAArgs)
	s.countAdmin("otaargs", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetDeviceOTAArgs(w http.ResponseWriter, r *http.Request) {
	var req otaArgsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.svc.SetDeviceOTAArgs(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "mac"), req.OTAArgs)
	s.countAdmin("otaargs", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event ledger disabled")
		return
	}
	q := r.URL.Query()
	f := store.EventFilter{
		Platform: strings.ToLower(q.Get("platform")),
		Kind:     q.Get("kind"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	events, err := s.events.ListEvents(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("list events")
		writeJSONError(w, http.StatusInternalServerError, "list events failed")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"dir":     s.logs.Dir(),
		"streams": s.logs.Streams(),
	})
}
