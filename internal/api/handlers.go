package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"whatsapp-relay/internal/hub"
	"whatsapp-relay/internal/model"
	"whatsapp-relay/internal/queue"
	"whatsapp-relay/internal/scheduler"
)

const maxWebhookBody = 1 << 20

type RecordStore interface {
	Create(ctx context.Context, payload json.RawMessage) (*model.RawWebhookRecord, error)
	ByID(ctx context.Context, id int64) (*model.RawWebhookRecord, error)
	List(ctx context.Context, status string, limit int) ([]*model.RawWebhookRecord, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

type Handler struct {
	sched    *scheduler.Scheduler
	records  RecordStore
	q        Enqueuer
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewHandler(s *scheduler.Scheduler, records RecordStore, q Enqueuer, h *hub.Hub) *Handler {
	return &Handler{
		sched:   s,
		records: records,
		q:       q,
		hub:     h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clients": h.hub.Len()})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

// ReceiveWebhook is the provider callback intake: persist the raw body as
// an audit record, enqueue the processing job, acknowledge immediately.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "reading body failed", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be json", http.StatusBadRequest)
		return
	}

	rec, err := h.records.Create(r.Context(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.q.Enqueue(r.Context(), queue.Job{RecordID: rec.ID, Payload: rec.Payload}); err != nil {
		// The record row survives; a replay can recover the job.
		slog.Error("api: enqueueing webhook job failed", "record_id", rec.ID, "err", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": rec.ID})
}

type recordResponse struct {
	ID          int64           `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Error       *string         `json:"error"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	ProcessedAt *time.Time      `json:"processedAt"`
}

func (h *Handler) ListWebhookRecords(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	records, err := h.records.List(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, recordResponse{
			ID:          rec.ID,
			Payload:     rec.Payload,
			Status:      string(rec.Status),
			Error:       rec.Error,
			ReceivedAt:  rec.ReceivedAt,
			ProcessedAt: rec.ProcessedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ReplayWebhookRecord re-enqueues a stored delivery, typically one that
// exhausted its retries.
func (h *Handler) ReplayWebhookRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid record id", http.StatusBadRequest)
		return
	}

	rec, err := h.records.ByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}

	if err := h.q.Enqueue(r.Context(), queue.Job{RecordID: rec.ID, Payload: rec.Payload}); err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": rec.ID})
}

// WebSocket registers a live client with the hub until it disconnects.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.hub.Add(conn)
	defer func() {
		h.hub.Remove(conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
