package api

import (
	"net/http"

	"coursechat/internal/account"
	"coursechat/internal/auth"
	"coursechat/pkg/types"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

type UserResponse struct {
	User *types.User `json:"user"`
}

// POST /api/users
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.deps.Auth.Register(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, UserResponse{User: user})
}

// POST /api/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	token, user, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// GET /api/notifications
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	items, err := s.deps.Feed.List(r.Context(), id.UserID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if items == nil {
		items = []*types.Notification{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
}

// POST /api/notifications/{id}/read
func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	id := auth.IdentityFromContext(r.Context())
	if err := s.deps.Feed.MarkRead(r.Context(), id.UserID, notificationID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

// GET /api/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Accounts.ListUsers(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// GET /api/users/search?q=
func (s *Server) searchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	users, err := s.deps.Accounts.Search(r.Context(), auth.IdentityFromContext(r.Context()), query)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"query": query, "users": users})
}

// GET /api/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := s.deps.Accounts.GetUser(r.Context(), userID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, UserResponse{User: user})
}

// PATCH /api/users/{id}
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req account.UpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.deps.Accounts.Update(r.Context(), auth.IdentityFromContext(r.Context()), userID, req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, UserResponse{User: user})
}

// DELETE /api/users/{id}
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Accounts.Delete(r.Context(), auth.IdentityFromContext(r.Context()), userID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}

// GET /api/statuses lists the caller's own updates
func (s *Server) listStatuses(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	statuses, err := s.deps.Accounts.Statuses(r.Context(), id.UserID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"statuses": statuses})
}

// POST /api/statuses
func (s *Server) postStatus(w http.ResponseWriter, r *http.Request) {
	var req account.StatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, err := s.deps.Accounts.PostStatus(r.Context(), auth.IdentityFromContext(r.Context()), req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{"status": status})
}

// GET /api/profiles/{username}
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Accounts.Profile(r.Context(), r.PathValue("username"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, profile)
}
