package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"concierge/internal/dragdrop"
	"concierge/internal/metrics"
	"concierge/internal/models"
	"concierge/internal/reconciler"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type beginDragRequest struct {
	QueueEntryID int64 `json:"queue_entry_id"`
}

type dropRequest struct {
	DropTimestamp      string `json:"drop_timestamp"`
	DraggedTitle       string `json:"dragged_title"`
	DurationMinutes    int    `json:"duration_minutes"`
	OriginQueueEntryID int64  `json:"origin_queue_entry_id"`
}

// Layouts accepted for drop timestamps without an offset.
var localDropLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseDropTimestamp reads RFC 3339 first and falls back to wall-clock
// layouts interpreted in loc. An empty value yields the zero time.
func parseDropTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range localDropLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, models.NewValidationError("drop_timestamp", fmt.Sprintf("cannot parse %q", raw))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("healthz")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"websocket_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("state")
	writeJSON(w, http.StatusOK, s.rec.Snapshot())
}

func (s *Server) handleAddToQueue(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("queue_add")
	var entry models.QueueEntry
	if !decodeBody(w, r, &entry) {
		return
	}
	if err := s.rec.Dispatch(reconciler.AddToQueueCmd{Entry: entry}); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("queue_remove")
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue entry id")
		return
	}
	if err := s.rec.Dispatch(reconciler.RemoveFromQueueCmd{ID: id}); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDrags(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("drags_list")
	writeJSON(w, http.StatusOK, s.relay.Active())
}

func (s *Server) handleBeginDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_begin")
	var req beginDragRequest
	if !decodeBody(w, r, &req) {
		return
	}
	handle := s.rec.BeginDrag(models.QueueEntry{ID: req.QueueEntryID})
	if handle == nil {
		writeError(w, http.StatusNotFound, models.NewNotFoundError(models.KindQueueEntry, req.QueueEntryID).Error())
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_drop")
	handleID := mux.Vars(r)["handle"]

	// A drop that cannot be read still ends the gesture.
	var req dropRequest
	if err := readBody(w, r, &req); err != nil {
		s.writeDomainError(w, s.rec.RejectDrop(handleID, models.NewValidationError("body", "invalid JSON body")))
		return
	}
	dropAt, err := parseDropTimestamp(req.DropTimestamp, s.loc)
	if err != nil {
		s.writeDomainError(w, s.rec.RejectDrop(handleID, err))
		return
	}

	appt, err := s.relay.Drop(models.DropEvent{
		HandleID:           handleID,
		DraggedTitle:       req.DraggedTitle,
		DurationMinutes:    req.DurationMinutes,
		DropTimestamp:      dropAt,
		OriginQueueEntryID: req.OriginQueueEntryID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (s *Server) handleCancelDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_cancel")
	handle, ok := s.rec.ActiveDrag(mux.Vars(r)["handle"])
	if !ok {
		s.writeDomainError(w, models.ErrGestureNotActive)
		return
	}
	s.rec.CancelDrag(&handle)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("appointment_add")
	var appt models.Appointment
	if !decodeBody(w, r, &appt) {
		return
	}
	created, err := s.rec.AddAppointment(appt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("appointment_update")
	var appt models.Appointment
	if !decodeBody(w, r, &appt) {
		return
	}
	id := mux.Vars(r)["id"]
	if appt.ID != "" && appt.ID != id {
		writeError(w, http.StatusBadRequest, "id in body does not match path")
		return
	}
	appt.ID = id
	if err := s.rec.Dispatch(reconciler.UpdateAppointmentCmd{Appointment: appt}); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *Server) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("appointment_delete")
	if err := s.rec.Dispatch(reconciler.DeleteAppointmentCmd{ID: mux.Vars(r)["id"]}); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_flush")
	if err := s.rec.Flush(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rec.SyncState())
}

// writeDomainError maps scheduler errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		verr *models.ValidationError
		nerr *models.NotFoundError
		serr *models.SyncError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nerr):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &serr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, models.ErrFlushInProgress), errors.Is(err, models.ErrGestureNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dragdrop.ErrNoDropHandler):
		s.log.Error().Err(err).Msg("drop received before the scheduler was bound")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func readBody(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := readBody(w, r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
