package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/ratingsync/internal/engine"
	"github.com/roach88/ratingsync/internal/identity"
	"github.com/roach88/ratingsync/internal/kv"
	"github.com/roach88/ratingsync/internal/rating"
)

// maxRequestBody bounds local API request bodies.
const maxRequestBody = 64 << 10

// defaultListLimit is used when GET /local/ratings has no limit.
const defaultListLimit = 50

type saveRequest struct {
	Identifier string `json:"identifier"`
	Rating     int    `json:"rating"`
	Comments   string `json:"comments"`
}

type saveResponse struct {
	Success  bool  `json:"success"`
	ID       int64 `json:"id"`
	Degraded bool  `json:"degraded,omitempty"`
}

func (s *Server) handleSaveRating(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}
	if req.Rating < rating.MinValue || req.Rating > rating.MaxValue {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("rating must be between %d and %d", rating.MinValue, rating.MaxValue))
		return
	}

	id, err := s.Records.SaveRating(r.Context(), rating.Record{
		Identifier: req.Identifier,
		Rating:     req.Rating,
		Comments:   req.Comments,
	})
	switch {
	case errors.Is(err, rating.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.Logger.Error("save rating failed", "identifier", req.Identifier, "error", err)
		writeError(w, http.StatusInternalServerError, "rating could not be saved")
		return
	}
	writeJSON(w, http.StatusCreated, saveResponse{Success: true, ID: id, Degraded: id < 0})
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	primary := s.Records.Primary()
	if primary == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	recs, err := primary.ListRecent(r.Context(), limit)
	if err != nil {
		s.Logger.Error("list ratings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ratings could not be listed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Status is the body of GET /local/status.
type Status struct {
	Pending         int             `json:"pending"`
	Abandoned       int             `json:"abandoned"`
	FallbackRecords int             `json:"fallbackRecords"`
	Online          bool            `json:"online"`
	Syncing         bool            `json:"syncing"`
	LastSync        *time.Time      `json:"lastSync,omitempty"`
	LastSummary     *engine.Summary `json:"lastSummary,omitempty"`
	Degraded        string          `json:"degraded,omitempty"`
	DeviceID        string          `json:"deviceId"`
	TabletNumber    string          `json:"tabletNumber"`
	Version         string          `json:"version"`
	CacheVersion    string          `json:"cacheVersion,omitempty"`
	CacheGeneration string          `json:"cacheGeneration,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := Status{
		DeviceID:        s.Records.DeviceID(),
		TabletNumber:    identity.DefaultTabletNumber,
		Version:         rating.AgentVersion,
		FallbackRecords: s.Records.FallbackCount(),
	}

	pending, err := s.Records.CountUnsynced(ctx)
	if err != nil {
		s.Logger.Error("count pending failed", "error", err)
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	st.Pending = pending

	if s.Engine != nil {
		if n, err := s.Records.CountAbandoned(ctx, s.Engine.Config().MaxRetries); err == nil {
			st.Abandoned = n
		}
	}
	if cause := s.Records.Degraded(); cause != nil {
		st.Degraded = cause.Error()
	}
	if s.Profile != nil {
		st.TabletNumber = identity.TabletNumber(s.Profile)
	}
	if s.Connectivity != nil {
		st.Online = s.Connectivity.IsOnline()
	}
	if s.Engine != nil {
		st.Syncing = s.Engine.Syncing()
		if t := s.Engine.LastSyncTime(); !t.IsZero() {
			st.LastSync = &t
			sum := s.Engine.LastSummary()
			st.LastSummary = &sum
		}
	}
	if s.Cache != nil {
		st.CacheVersion = s.Cache.Version()
		st.CacheGeneration = s.Cache.Active()
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSync runs a pass and returns its summary. The pass is forced unless
// ?force=false is given.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine not running")
		return
	}
	force := true
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = b
	}

	run := s.Engine.SyncData
	if force {
		run = s.Engine.ForceSync
	}
	sum, err := run(r.Context())
	if err != nil {
		s.Logger.Error("sync request failed", "force", force, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

type connectivityResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.Connectivity == nil {
		writeError(w, http.StatusServiceUnavailable, "connectivity coordinator not running")
		return
	}
	var req connectivityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	changed := s.Connectivity.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, connectivityResponse{Online: *req.Online, Changed: changed})
}

// prefKeys are the profile keys the page may read and write.
var prefKeys = map[string]bool{
	kv.KeyFormLocked:         true,
	kv.KeySelectedIdentifier: true,
	kv.KeyHeaderImageURL:     true,
	kv.KeyTabletNumber:       true,
}

type prefBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) prefKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.Profile == nil {
		writeError(w, http.StatusServiceUnavailable, "profile unavailable")
		return "", false
	}
	key := mux.Vars(r)["key"]
	if !prefKeys[key] {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown preference %q", key))
		return "", false
	}
	return key, true
}

func (s *Server) handleGetPref(w http.ResponseWriter, r *http.Request) {
	key, ok := s.prefKey(w, r)
	if !ok {
		return
	}
	v, found := s.Profile.Get(key)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("preference %q not set", key))
		return
	}
	writeJSON(w, http.StatusOK, prefBody{Key: key, Value: v})
}

func (s *Server) handlePutPref(w http.ResponseWriter, r *http.Request) {
	key, ok := s.prefKey(w, r)
	if !ok {
		return
	}
	var body prefBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Profile.Set(key, body.Value); err != nil {
		s.Logger.Error("save preference failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "preference could not be saved")
		return
	}
	writeJSON(w, http.StatusOK, prefBody{Key: key, Value: body.Value})
}

func (s *Server) handleDeletePref(w http.ResponseWriter, r *http.Request) {
	key, ok := s.prefKey(w, r)
	if !ok {
		return
	}
	if err := s.Profile.Delete(key); err != nil {
		s.Logger.Error("delete preference failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "preference could not be deleted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
