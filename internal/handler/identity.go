package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/twin"
)

// IdentityHandler serves the identity provider's accounts:* methods and the
// secure-token refresh endpoint.
type IdentityHandler struct {
	twin   *twin.Twin
	logger *slog.Logger
}

func NewIdentityHandler(tw *twin.Twin, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{twin: tw, logger: logger}
}

// accountsRequest is the union of every accounts:* request body.
type accountsRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
	PostBody          string `json:"postBody"`
	RequestURI        string `json:"requestUri"`
	IDToken           string `json:"idToken"`
	DisplayName       string `json:"displayName"`
	RequestType       string `json:"requestType"`
}

type signInResponse struct {
	Kind string `json:"kind"`
	*twin.IdentitySession
	ExpiresIn string `json:"expiresIn,omitempty"`
}

// HandleAccounts dispatches POST /accounts:{method}.
func (h *IdentityHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")

	var req accountsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProviderError(w, apperror.ProviderAuth(http.StatusBadRequest, "INVALID_JSON", nil))
		return
	}

	var (
		sess *twin.IdentitySession
		err  error
	)
	switch method {
	case "accounts:signUp":
		sess, err = h.twin.SignUp(req.Email, req.Password)
	case "accounts:signInWithPassword":
		sess, err = h.twin.SignInWithPassword(req.Email, req.Password)
	case "accounts:signInWithIdp":
		form, perr := url.ParseQuery(req.PostBody)
		if perr != nil {
			writeProviderError(w, apperror.ProviderAuth(http.StatusBadRequest, "INVALID_IDP_RESPONSE", nil))
			return
		}
		sess, err = h.twin.SignInWithIdp(form.Get("providerId"), form.Get("id_token"))
	case "accounts:update":
		sess, err = h.twin.UpdateDisplayName(req.IDToken, req.DisplayName)
	case "accounts:sendOobCode":
		if req.RequestType != "PASSWORD_RESET" {
			writeProviderError(w, apperror.ProviderAuth(http.StatusBadRequest, "INVALID_REQ_TYPE", nil))
			return
		}
		if err := h.twin.SendPasswordReset(req.Email); err != nil {
			writeProviderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"kind": "identitytoolkit#GetOobConfirmationCodeResponse", "email": req.Email})
		return
	case "accounts:delete":
		if err := h.twin.DeleteAccount(req.IDToken); err != nil {
			writeProviderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"kind": "identitytoolkit#DeleteAccountResponse"})
		return
	default:
		writeProviderError(w, apperror.ProviderAuth(http.StatusNotFound, "UNKNOWN_METHOD", nil))
		return
	}

	if err != nil {
		h.logger.Info("identity call rejected", slog.String("method", method), slog.String("error", err.Error()))
		writeProviderError(w, err)
		return
	}

	resp := signInResponse{Kind: "identitytoolkit#" + method, IdentitySession: sess}
	if sess.ExpiresIn > 0 {
		resp.ExpiresIn = strconv.Itoa(sess.ExpiresIn)
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	UserID       string `json:"user_id"`
}

// HandleToken serves the refresh_token grant as a form POST.
func (h *IdentityHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProviderError(w, apperror.ProviderAuth(http.StatusBadRequest, "INVALID_REQUEST", nil))
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		writeProviderError(w, apperror.ProviderAuth(http.StatusBadRequest, "INVALID_GRANT_TYPE", nil))
		return
	}

	sess, err := h.twin.Refresh(r.PostForm.Get("refresh_token"))
	if err != nil {
		if !errors.Is(err, apperror.ErrProviderAuth) {
			h.logger.Error("token refresh failed", slog.String("error", err.Error()))
		}
		writeProviderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  sess.IDToken,
		ExpiresIn:    sess.ExpiresIn,
		TokenType:    "Bearer",
		RefreshToken: sess.RefreshToken,
		IDToken:      sess.IDToken,
		UserID:       sess.LocalID,
	})
}
