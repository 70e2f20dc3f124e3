package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type Remover interface {
	RemoveDoctor(ctx context.Context, doctorID uuid.UUID, by identity.Requester) error
	RemoveStaff(ctx context.Context, staffID uuid.UUID, by identity.Requester) error
}

type AdminConfig struct {
	Remover  Remover
	Users    UserCreator
	Tokens   *identity.Tokens
	TokenTTL time.Duration
	Logger   *logging.Logger
}

// AdminHandler carries the admin-only account operations.
type AdminHandler struct {
	remover  Remover
	users    UserCreator
	tokens   *identity.Tokens
	tokenTTL time.Duration
	logger   *logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &AdminHandler{
		remover:  cfg.Remover,
		users:    cfg.Users,
		tokens:   cfg.Tokens,
		tokenTTL: cfg.TokenTTL,
		logger:   cfg.Logger,
	}
}

type createUserRequest struct {
	Kind  string `json:"kind"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreateUser handles POST /v1/admin/users. Doctors are created through the
// doctors endpoint so that the profile and login stay paired.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := identity.ParseKind(req.Kind)
	if err != nil {
		writeServiceError(w, h.logger, "create user", err)
		return
	}
	if kind == identity.KindGuest || kind == identity.KindDoctor {
		jsonError(w, "kind must be Admin, Staff or Patient", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		jsonError(w, "email is required", http.StatusBadRequest)
		return
	}
	u, err := h.users.CreateUser(r.Context(), identity.User{
		Kind:  kind,
		Email: email,
		Name:  strings.TrimSpace(req.Name),
	})
	if err != nil {
		writeServiceError(w, h.logger, "create user", err)
		return
	}
	resp := map[string]any{"user": u}
	if h.tokens.Enabled() {
		token, err := h.tokens.IssueUser(u, h.tokenTTL)
		if err != nil {
			writeServiceError(w, h.logger, "issue user token", err)
			return
		}
		resp["token"] = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RemoveDoctor handles DELETE /v1/admin/doctors/{id}.
func (h *AdminHandler) RemoveDoctor(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, "remove doctor", h.remover.RemoveDoctor)
}

// RemoveStaff handles DELETE /v1/admin/staff/{id}.
func (h *AdminHandler) RemoveStaff(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, "remove staff", h.remover.RemoveStaff)
}

func (h *AdminHandler) remove(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, identity.Requester) error) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := fn(r.Context(), id, req); err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}
	h.logger.Info("account removed", "op", op, "id", id, "by", req.ID)
	w.WriteHeader(http.StatusNoContent)
}
