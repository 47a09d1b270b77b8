// Package auth is the identity collaborator: accounts, passwords, tokens and
// the per-request identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// RegisterRequest is the input of Service.Register
type RegisterRequest struct {
	Username string     `json:"username" validate:"required,max=150"`
	Password string     `json:"password" validate:"required,min=8,max=72"`
	RealName string     `json:"real_name" validate:"max=150"`
	Role     types.Role `json:"role" validate:"required,oneof=student teacher"`
}

// Service registers and authenticates users
type Service struct {
	users    interfaces.UserRepository
	tokens   *Tokens
	params   HashParams
	validate *validator.Validate
	log      *slog.Logger
}

func NewService(users interfaces.UserRepository, tokens *Tokens, params HashParams, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		params:   params,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With("component", "auth"),
	}
}

// Register creates an account with a hashed password
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*types.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !types.IsValidUsername(req.Username) {
		return nil, types.ErrInvalidUsername
	}

	hash, err := HashPassword(req.Password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Username:     req.Username,
		RealName:     req.RealName,
		Role:         req.Role,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	s.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login checks the password and returns a signed token
func (s *Service) Login(ctx context.Context, username, password string) (string, *types.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, interfaces.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	ok, err := ComparePassword(password, user.PasswordHash)
	if err != nil || !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(IdentityOf(user))
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// DisplayName resolves the chat display name; unknown users render as anonymous
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	if userID <= 0 {
		return types.AnonymousName
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return types.AnonymousName
	}
	return user.Username
}

// IdentityFromRequest reads the token from the Authorization header, the
// token cookie or the token query parameter, in that order. Browsers cannot
// set headers on a websocket handshake, hence the fallbacks. Anything
// missing or invalid yields the anonymous identity.
func (s *Service) IdentityFromRequest(r *http.Request) types.Identity {
	raw := tokenFromRequest(r)
	if raw == "" {
		return types.Anonymous()
	}
	id, err := s.tokens.Parse(raw)
	if err != nil {
		s.log.Debug("rejected token", "err", err)
		return types.Anonymous()
	}
	return id
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// IdentityOf is the identity a user acts as
func IdentityOf(user *types.User) types.Identity {
	return types.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}
}

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx
func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity, or anonymous
func IdentityFromContext(ctx context.Context) types.Identity {
	if id, ok := ctx.Value(identityKey{}).(types.Identity); ok {
		return id
	}
	return types.Anonymous()
}
