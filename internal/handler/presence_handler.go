package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/service"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/response"
)

// PresenceHandler serves presence lookups.
type PresenceHandler struct {
	tracker service.PresenceTracker
}

func NewPresenceHandler(tracker service.PresenceTracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

func (h *PresenceHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/presence/{identity}", h.GetPresence).Methods(http.MethodGet)
}

// GetPresence handles GET /api/v1/presence/{identity}
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	if identity == "" {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "identity is required")
		return
	}

	rec, err := h.tracker.Lookup(r.Context(), identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.WriteError(w, http.StatusNotFound, response.CodeNotFound, "no presence for identity")
			return
		}
		l := log.Ctx(r.Context())
		l.Error().Err(err).Str(log.FieldIdentity, identity).Msg("failed to look up presence")
		response.WriteError(w, http.StatusInternalServerError, response.CodeInternal, "failed to get presence")
		return
	}

	response.WriteJSON(w, http.StatusOK, rec)
}
