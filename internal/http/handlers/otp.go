package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type CodeService interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) error
	TTL() time.Duration
}

// OTPHandler issues email codes and trades a valid code for a guest token.
type OTPHandler struct {
	codes    CodeService
	tokens   *identity.Tokens
	guestTTL time.Duration
	logger   *logging.Logger
}

func NewOTPHandler(codes CodeService, tokens *identity.Tokens, guestTTL time.Duration, logger *logging.Logger) *OTPHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if guestTTL <= 0 {
		guestTTL = 30 * time.Minute
	}
	return &OTPHandler{codes: codes, tokens: tokens, guestTTL: guestTTL, logger: logger}
}

type otpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

// Issue handles POST /v1/otp. The code only ever leaves by email.
func (h *OTPHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.codes.Issue(r.Context(), req.Email); err != nil {
		writeServiceError(w, h.logger, "issue otp", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sent":               true,
		"expires_in_seconds": int(h.codes.TTL().Seconds()),
	})
}

// Verify handles POST /v1/otp/verify and consumes the code.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.codes.Verify(r.Context(), req.Email, req.Code); err != nil {
		writeServiceError(w, h.logger, "verify otp", err)
		return
	}
	resp := map[string]any{"verified": true}
	if h.tokens.Enabled() {
		token, err := h.tokens.IssueGuest(req.Email, h.guestTTL)
		if err != nil {
			writeServiceError(w, h.logger, "issue guest token", err)
			return
		}
		resp["token"] = token
		resp["expires_in_seconds"] = int(h.guestTTL.Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}
