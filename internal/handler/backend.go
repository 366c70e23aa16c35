package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/keno-client/internal/api"
	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/auth"
	"github.com/sakif/keno-client/internal/twin"
)

// BackendHandler serves the game backend's REST API. Every route expects the
// bearer claims put in the context by auth.RequireBearer.
type BackendHandler struct {
	twin   *twin.Twin
	logger *slog.Logger
}

func NewBackendHandler(tw *twin.Twin, logger *slog.Logger) *BackendHandler {
	return &BackendHandler{twin: tw, logger: logger}
}

// Routes registers the backend endpoints on r.
func (h *BackendHandler) Routes(r chi.Router) {
	r.Post(api.PathLogin, h.HandleLogin)
	r.Post(api.PathLogout, h.HandleLogout)
	r.Delete(api.PathAccount, h.HandleDeleteAccount)
	r.Post(api.PathProfile, h.HandleUpdateProfile)
	r.Post(api.PathEnableEmails, h.HandleEnableEmails)
	r.Get(api.PathGameTable, h.HandleGameTable)
	r.Get(api.PathBalance, h.HandleBalance)
	r.Post(api.PathPlay, h.HandlePlay)
	r.Post(api.PathComplete, h.HandleComplete)
	r.Post(api.PathClaimBonus, h.HandleClaimBonus)
	r.Post(api.PathPurchase, h.HandlePurchase)
	r.Get(api.PathAds, h.HandleAds)
}

// caller returns the provider user and the optional X-SESSION-ID.
func caller(r *http.Request) (string, int, error) {
	localID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", 0, apperror.NotAuthenticated()
	}
	raw := r.Header.Get(api.HeaderSessionID)
	if raw == "" {
		return localID, 0, nil
	}
	sessionID, err := strconv.Atoi(raw)
	if err != nil || sessionID <= 0 {
		return "", 0, apperror.NotAuthenticated()
	}
	return localID, sessionID, nil
}

func (h *BackendHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.NotAuthenticated())
		return
	}
	var req api.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.twin.Login(claims.Subject, claims.Email, req.DeviceID, req.Platform)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *BackendHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err == nil {
		err = h.twin.Logout(localID, sessionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BackendHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err == nil {
		err = h.twin.DeleteGameAccount(localID, sessionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("player deleted", slog.String("localID", localID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *BackendHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.twin.UpdateProfile(localID, sessionID, req.Name, req.Email)
	respond(w, profile, err)
}

func (h *BackendHandler) HandleEnableEmails(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.EnableEmailsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.twin.EnableEmails(localID, sessionID, req.EnableEmails)
	respond(w, profile, err)
}

func (h *BackendHandler) HandleGameTable(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err == nil {
		err = h.twin.Authorize(localID, sessionID)
	}
	respond(w, h.twin.Table(), err)
}

func (h *BackendHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := h.twin.Balance(localID, sessionID)
	respond(w, balance, err)
}

func (h *BackendHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.PlayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.twin.Play(localID, sessionID, req.Bet, req.Selected)
	if err == nil {
		h.logger.Debug("game played",
			slog.Int("gameID", res.GameID),
			slog.Int("bet", res.Bet),
			slog.Int("matched", len(res.MatchedCards)),
			slog.Int("win", res.Win),
		)
	}
	respond(w, res, err)
}

func (h *BackendHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.twin.Complete(localID, sessionID, req.GameID)
	respond(w, res, err)
}

func (h *BackendHandler) HandleClaimBonus(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.ClaimBonusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.twin.ClaimTimeBonus(localID, sessionID, req.TimeBonus)
	respond(w, res, err)
}

func (h *BackendHandler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.twin.RegisterPurchase(localID, sessionID, req.ProductID, req.PurchaseToken)
	respond(w, res, err)
}

func (h *BackendHandler) HandleAds(w http.ResponseWriter, r *http.Request) {
	localID, sessionID, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ad, err := h.twin.Ads(localID, sessionID)
	respond(w, ad, err)
}

func respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
