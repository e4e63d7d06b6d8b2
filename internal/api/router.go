package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/webhooks", h.ReceiveWebhook)
	mux.HandleFunc("GET /v1/webhooks/records", h.ListWebhookRecords)
	mux.HandleFunc("POST /v1/webhooks/records/{id}/replay", h.ReplayWebhookRecord)

	mux.HandleFunc("GET /v1/ws", h.WebSocket)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-relay"))
	})

	return mux
}
