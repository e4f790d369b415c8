package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	middleware "github.com/markdave123-py/papertrail/internal/api/middlewares"
	"github.com/markdave123-py/papertrail/internal/services"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	users  *services.UserService
	secret []byte
	log    *zap.Logger
}

func NewAuthHandler(users *services.UserService, secret string, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, secret: []byte(secret), log: log}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	token, err := middleware.IssueToken(h.secret, user.ID, user.IsAdmin, tokenTTL)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
