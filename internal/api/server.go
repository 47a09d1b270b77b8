// Package api is the REST surface around the chat: accounts, courses,
// notifications, chat history and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shirou/gopsutil/process"

	"coursechat/internal/account"
	"coursechat/internal/auth"
	"coursechat/internal/course"
	"coursechat/internal/notify"
	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// HistoryReader is the chat channel's read side
type HistoryReader interface {
	History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error)
}

// StatsProvider exposes room statistics
type StatsProvider interface {
	Stats() map[string]int
}

// Dependencies are the components the server fronts
type Dependencies struct {
	Auth     *auth.Service
	Accounts *account.Service
	Courses  *course.Registry
	Gate     *course.Gate
	Feed     *notify.Feed
	History  HistoryReader
	Store    interfaces.MessageStore
	Rooms    StatsProvider

	// Chat serves GET /ws/course_chat/{course_id}/ when set
	Chat http.Handler
}

type Server struct {
	deps      Dependencies
	validate  *validator.Validate
	log       *slog.Logger
	router    *http.ServeMux
	startedAt time.Time
}

func NewServer(deps Dependencies, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		deps:      deps,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log.With("component", "api"),
		router:    http.NewServeMux(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(s.identityMiddleware(h))))
	}
	authed := func(pattern string, h http.HandlerFunc) {
		api(pattern, s.requireAuth(h))
	}

	api("POST /api/users", s.register)
	api("POST /api/login", s.login)
	authed("GET /api/users", s.listUsers)
	authed("GET /api/users/search", s.searchUsers)
	authed("GET /api/users/{id}", s.getUser)
	authed("PATCH /api/users/{id}", s.updateUser)
	authed("DELETE /api/users/{id}", s.deleteUser)
	authed("GET /api/statuses", s.listStatuses)
	authed("POST /api/statuses", s.postStatus)
	authed("GET /api/profiles/{username}", s.profile)

	authed("GET /api/courses", s.listCourses)
	authed("POST /api/courses", s.createCourse)
	authed("GET /api/courses/{id}", s.getCourse)
	authed("POST /api/courses/{id}/enroll", s.enroll)
	authed("DELETE /api/courses/{id}/students/{sid}", s.removeStudent)
	authed("POST /api/courses/{id}/students/{sid}/block", s.blockStudent)
	authed("POST /api/courses/{id}/students/{sid}/unblock", s.unblockStudent)
	authed("GET /api/courses/{id}/feedback", s.listFeedback)
	authed("POST /api/courses/{id}/feedback", s.addFeedback)
	authed("GET /api/courses/{id}/materials", s.listMaterials)
	authed("POST /api/courses/{id}/materials", s.addMaterial)
	api("GET /api/courses/{id}/chat", s.chatHistory)

	authed("GET /api/notifications", s.listNotifications)
	authed("POST /api/notifications/{id}/read", s.markNotificationRead)

	api("GET /health", s.healthCheck)
	s.router.Handle("OPTIONS /", s.corsMiddleware(http.NotFoundHandler()))

	if s.deps.Chat != nil {
		s.router.Handle("GET /ws/course_chat/{course_id}/", s.deps.Chat)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Rooms     map[string]int         `json:"rooms"`
	Courses   map[string]interface{} `json:"courses"`
	System    map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus := "healthy", "healthy"
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	var rooms map[string]int
	if s.deps.Rooms != nil {
		rooms = s.deps.Rooms.Stats()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Rooms:     rooms,
		Courses:   s.deps.Courses.Stats(),
		System:    s.systemStats(),
	})
}

// systemStats reports on this process; gopsutil failures only drop fields
func (s *Server) systemStats() map[string]interface{} {
	stats := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := p.MemoryPercent(); err == nil {
		stats["memory_percent"] = mem
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats["cpu_percent"] = cpu
	}
	return stats
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", "err", err)
	}
}

// sendError writes the uniform error body
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendServiceError maps component errors onto HTTP statuses
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		s.sendError(w, verrs.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrInvalidUsername), errors.Is(err, types.ErrInvalidCourseTitle),
		errors.Is(err, types.ErrInvalidRole), errors.Is(err, types.ErrMessageTooLarge),
		errors.Is(err, account.ErrEmptyStatus):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, course.ErrCourseNotFound), errors.Is(err, course.ErrStudentNotFound),
		errors.Is(err, account.ErrUserNotFound), errors.Is(err, interfaces.ErrNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, course.ErrTeacherOnly), errors.Is(err, course.ErrCourseTeacher),
		errors.Is(err, course.ErrStudentOnly), errors.Is(err, course.ErrBlocked),
		errors.Is(err, course.ErrNotEnrolled), errors.Is(err, account.ErrTeacherOnly),
		errors.Is(err, account.ErrNotOwner):
		s.sendError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, interfaces.ErrUnauthorized):
		s.sendError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, interfaces.ErrConflict):
		s.sendError(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("request failed", "err", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body and validates its struct tags
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.sendServiceError(w, err)
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware resolves the caller once and carries it in the context
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.deps.Auth.IdentityFromRequest(r)
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.IdentityFromContext(r.Context()).Authenticated() {
			s.sendError(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
