package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/server/middleware"
	"github.com/faucetdb/keysmith/internal/service"
)

// UserHandler serves user registration. Keys are always issued to an
// existing user.
type UserHandler struct {
	store *config.Store
	gw    *service.Gateway
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *config.Store, gw *service.Gateway) *UserHandler {
	return &UserHandler{store: store, gw: gw}
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CreateUser handles POST /users.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	d, err := h.gw.Admit(middleware.ClientFromRequest(r), ratelimit.CategoryDataWrite)
	if err != nil {
		writeAuthError(w, d, err)
		return
	}
	middleware.SetRateLimitHeaders(w, d)

	var req createUserRequest
	if err := readJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := requireField("username", req.Username); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		middleware.WriteError(w, autherr.New(autherr.InvalidRequest, "a valid email is required"))
		return
	}

	user := &model.User{Username: req.Username, Email: req.Email}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, config.ErrConflict) {
			writeError(w, http.StatusConflict, "username or email already registered")
			return
		}
		middleware.WriteError(w, autherr.Wrap(autherr.StoreUnavailable, "create user", err))
		return
	}

	writeJSON(w, http.StatusCreated, user)
}
