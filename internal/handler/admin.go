package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/keno-client/internal/twin"
)

// AdminHandler exposes the twin's state for tests and local debugging.
type AdminHandler struct {
	twin   *twin.Twin
	logger *slog.Logger
}

func NewAdminHandler(tw *twin.Twin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{twin: tw, logger: logger}
}

func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.twin.Reset()
	h.logger.Info("twin state reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *AdminHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.twin.Snapshot())
}

func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
