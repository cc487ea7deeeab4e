package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"gorm.io/gorm"
)

// HealthHandler — liveness/readiness бота. Health отдаёт режим получения
// апдейтов и аптайм, Ready дополнительно проверяет соединение с БД: без неё
// бот не обработает ни одно обращение.
type HealthHandler struct {
	db      *gorm.DB
	mode    string
	started time.Time
}

func NewHealthHandler(db *gorm.DB, mode string) *HealthHandler {
	return &HealthHandler{db: db, mode: mode, started: time.Now()}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"service":        "support-bot",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
