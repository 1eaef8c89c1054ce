package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gitshopapp/preorder/internal/services"
)

var errOTPUnavailable = errors.New("otp login is not configured")

type putSessionRequest struct {
	Email     string `json:"email"`
	Token     string `json:"token,omitempty"`
	OTP       string `json:"otp,omitempty"`
	Recaptcha string `json:"recaptcha,omitempty"`
}

type otpRequest struct {
	Email     string `json:"email"`
	Recaptcha string `json:"recaptcha"`
}

// PutSession stores a login for the user. The body carries either a bearer
// token or a one-time code that is exchanged for one.
func (h *Handlers) PutSession(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req putSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	token := strings.TrimSpace(req.Token)
	otp := strings.TrimSpace(req.OTP)

	switch {
	case email == "":
		h.writeError(w, r, fmt.Errorf("%w: email is required", services.ErrValidation))
		return
	case token == "" && otp == "":
		h.writeError(w, r, fmt.Errorf("%w: token or otp is required", services.ErrValidation))
		return
	case token != "" && otp != "":
		h.writeError(w, r, fmt.Errorf("%w: token and otp are mutually exclusive", services.ErrValidation))
		return
	}

	if token == "" {
		if h.otp == nil {
			h.writeError(w, r, fmt.Errorf("%w: %w", services.ErrValidation, errOTPUnavailable))
			return
		}
		token, err = h.otp.VerifyOTP(r.Context(), email, otp, req.Recaptcha)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	sess, err := h.sessions.Login(r.Context(), userID, email, token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("session stored", "expires_at", sess.ExpiresAt)
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, sess)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sess, err := h.sessions.Lookup(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, sess)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.sessions.Logout(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestOTP asks the commerce backend to mail a login code.
func (h *Handlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	if h.otp == nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", services.ErrValidation, errOTPUnavailable))
		return
	}

	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		h.writeError(w, r, fmt.Errorf("%w: email is required", services.ErrValidation))
		return
	}

	if err := h.otp.RequestOTP(r.Context(), email, req.Recaptcha); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusAccepted, map[string]string{"status": "sent"})
}
