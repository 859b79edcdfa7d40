package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

var (
	// ErrInvalidCredentials is returned when an email/password pair does not match an active user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for unknown, expired or revoked tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrGitHubDisabled is returned when GitHub sign-in is not configured.
	ErrGitHubDisabled = errors.New("github auth is not enabled")
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// Service defines the interface for authentication operations.
type Service interface {
	Start(ctx context.Context) error
	Stop() error

	// Accounts.
	Register(ctx context.Context, in RegisterInput) (*store.User, error)
	CreateSuperuser(ctx context.Context, in RegisterInput) (*store.User, error)
	UpdateProfile(ctx context.Context, user *store.User, in ProfileInput, partial bool) (*store.User, error)

	// Authentication.
	Authenticate(ctx context.Context, email, password string) (*store.User, string, error)
	AuthenticateGitHub(ctx context.Context, code string) (*store.User, string, error)
	ValidateSession(ctx context.Context, token string) (*store.User, error)
	Logout(ctx context.Context, token string) error

	// Authorization.
	IsStaff(user *store.User) bool

	// GitHub OAuth.
	GitHubEnabled() bool
	GetGitHubAuthURL(state string) string

	// OAuth State (CSRF protection).
	CreateOAuthState(ctx context.Context) (string, error)
	ValidateOAuthState(ctx context.Context, state string) error
}

// RegisterInput is the payload for creating an account.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ProfileInput is the payload for updating the authenticated user.
// Nil fields are left unchanged.
type ProfileInput struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Name     *string `json:"name"`
}

// accountFields holds the validated parts of an account.
type accountFields struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Name  string `json:"name" validate:"required,max=255"`
}

// service implements Service.
type service struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	sessionTTL time.Duration
	cache      *tokenCache
	cancel     context.CancelFunc

	// Overridable for tests.
	githubEndpoint oauth2.Endpoint
	githubAPIURL   string
}

// Ensure service implements Service.
var _ Service = (*service)(nil)

// NewService creates a new auth service.
func NewService(log logrus.FieldLogger, cfg *config.Config, st store.Store) Service {
	s := &service{
		log:            log.WithField("component", "auth"),
		cfg:            cfg,
		store:          st,
		sessionTTL:     cfg.Auth.SessionTTL,
		githubEndpoint: githuboauth.Endpoint,
	}

	if cfg.Auth.TokenCacheTTL > 0 {
		cache, err := newTokenCache(cfg.Auth.TokenCacheTTL)
		if err != nil {
			s.log.WithError(err).Warn("Token cache unavailable, validating every request against the store")
		} else {
			s.cache = cache
		}
	}

	return s
}

// Start initializes the auth service.
func (s *service) Start(ctx context.Context) error {
	s.log.Info("Starting auth service")

	if err := s.syncSuperusers(ctx); err != nil {
		return fmt.Errorf("syncing superusers: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	// Start session cleanup goroutine.
	go s.cleanupSessions(ctx)

	return nil
}

// Stop shuts down the auth service.
func (s *service) Stop() error {
	s.log.Info("Stopping auth service")

	if s.cancel != nil {
		s.cancel()
	}

	if s.cache != nil {
		s.cache.close()
	}

	return nil
}

// syncSuperusers creates or updates the superusers declared in config.
func (s *service) syncSuperusers(ctx context.Context) error {
	for _, su := range s.cfg.Auth.Superusers {
		email := NormalizeEmail(su.Email)

		// An unset ${VAR} leaves the placeholder in place.
		if !strings.Contains(email, "@") {
			s.log.WithField("email", email).Warn("Skipping superuser without a valid email")

			continue
		}

		existing, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("checking user %s: %w", email, err)
		}

		if existing == nil {
			if _, err := s.CreateSuperuser(ctx, RegisterInput{
				Email:    email,
				Password: su.Password,
				Name:     superuserName(su),
			}); err != nil {
				return fmt.Errorf("creating superuser %s: %w", email, err)
			}

			continue
		}

		hash, err := hashPassword(su.Password)
		if err != nil {
			return fmt.Errorf("hashing password for %s: %w", email, err)
		}

		existing.PasswordHash = hash
		existing.IsActive = true
		existing.IsStaff = true
		existing.IsSuperuser = true

		if su.Name != "" {
			existing.Name = su.Name
		}

		if err := s.store.UpdateUser(ctx, existing); err != nil {
			return fmt.Errorf("updating superuser %s: %w", email, err)
		}

		s.log.WithField("email", email).Debug("Updated superuser from config")
	}

	return nil
}

func superuserName(su config.SuperuserAuth) string {
	if su.Name != "" {
		return su.Name
	}

	return localPart(su.Email)
}

func localPart(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")

	return local
}

// NormalizeEmail lower-cases the domain part of an email address and leaves
// the local part untouched. Strings without an @ are returned unchanged.
func NormalizeEmail(email string) string {
	trimmed := strings.TrimSpace(email)

	i := strings.LastIndex(trimmed, "@")
	if i < 0 {
		return email
	}

	return trimmed[:i] + "@" + strings.ToLower(trimmed[i+1:])
}

// validateAccount checks email, name and, when given, password.
func (s *service) validateAccount(email, name string, password *string) *validation.Error {
	verr := validation.NewError()

	if err := validation.Struct(accountFields{Email: email, Name: name}); err != nil {
		var fieldErr *validation.Error
		if errors.As(err, &fieldErr) {
			verr.Merge(fieldErr)
		} else {
			verr.Add("non_field_errors", err.Error())
		}
	}

	if password != nil {
		switch {
		case *password == "":
			verr.Add("password", validation.MsgBlank)
		case utf8.RuneCountInString(*password) < s.cfg.Auth.MinPasswordLength:
			verr.Add("password", fmt.Sprintf("Ensure this field has at least %d characters.",
				s.cfg.Auth.MinPasswordLength))
		case len(*password) > maxPasswordBytes:
			verr.Add("password", fmt.Sprintf("Ensure this field has no more than %d bytes.",
				maxPasswordBytes))
		}
	}

	return verr
}

func duplicateEmailError() *validation.Error {
	verr := validation.NewError()
	verr.Add("email", "user with this email already exists.")

	return verr
}

// Register creates a regular user account.
func (s *service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	return s.createAccount(ctx, in, false)
}

// CreateSuperuser creates an account with staff and superuser rights. A blank
// name defaults to the local part of the email.
func (s *service) CreateSuperuser(ctx context.Context, in RegisterInput) (*store.User, error) {
	if strings.TrimSpace(in.Name) == "" {
		in.Name = localPart(in.Email)
	}

	return s.createAccount(ctx, in, true)
}

func (s *service) createAccount(ctx context.Context, in RegisterInput, superuser bool) (*store.User, error) {
	email := NormalizeEmail(in.Email)

	if verr := s.validateAccount(email, in.Name, &in.Password); !verr.Empty() {
		return nil, verr
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      superuser,
		IsSuperuser:  superuser,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, duplicateEmailError()
		}

		return nil, fmt.Errorf("creating user: %w", err)
	}

	details := "registered"
	if superuser {
		details = "superuser created"
	}

	s.audit(ctx, store.AuditActionUserCreated, user, details)

	s.log.WithFields(logrus.Fields{
		"email":     user.Email,
		"superuser": superuser,
	}).Info("Created user")

	return user, nil
}

// UpdateProfile updates the given user's email, name and password. When
// partial is false all three fields must be present.
func (s *service) UpdateProfile(
	ctx context.Context, user *store.User, in ProfileInput, partial bool,
) (*store.User, error) {
	if !partial {
		missing := validation.NewError()

		if in.Email == nil {
			missing.Add("email", validation.MsgRequired)
		}

		if in.Password == nil {
			missing.Add("password", validation.MsgRequired)
		}

		if in.Name == nil {
			missing.Add("name", validation.MsgRequired)
		}

		if !missing.Empty() {
			return nil, missing
		}
	}

	updated := *user

	if in.Email != nil {
		updated.Email = NormalizeEmail(*in.Email)
	}

	if in.Name != nil {
		updated.Name = *in.Name
	}

	if verr := s.validateAccount(updated.Email, updated.Name, in.Password); !verr.Empty() {
		return nil, verr
	}

	if in.Password != nil {
		hash, err := hashPassword(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}

		updated.PasswordHash = hash
	}

	if err := s.store.UpdateUser(ctx, &updated); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, duplicateEmailError()
		}

		return nil, fmt.Errorf("updating user: %w", err)
	}

	s.audit(ctx, store.AuditActionUserUpdated, &updated, "profile updated")

	return &updated, nil
}

// Authenticate checks an email and password and issues a new token.
func (s *service) Authenticate(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, "", fmt.Errorf("getting user: %w", err)
	}

	if user == nil || !user.IsActive || user.PasswordHash == "" {
		return nil, "", ErrInvalidCredentials
	}

	// Verify password.
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	// Create session.
	token, err := s.createSession(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("creating session: %w", err)
	}

	s.audit(ctx, store.AuditActionUserLogin, user, "password")

	s.log.WithField("email", user.Email).Info("User authenticated via password")

	return user, token, nil
}

// ValidateSession validates a token and returns the associated active user.
func (s *service) ValidateSession(ctx context.Context, token string) (*store.User, error) {
	tokenHash := hashToken(token)

	var session *store.Session

	if s.cache != nil {
		session, _ = s.cache.get(tokenHash)
	}

	if session == nil {
		var err error

		session, err = s.store.GetSessionByToken(ctx, tokenHash)
		if err != nil {
			return nil, fmt.Errorf("getting session: %w", err)
		}

		if session == nil {
			return nil, ErrInvalidToken
		}

		if s.cache != nil && time.Now().Before(session.ExpiresAt) {
			s.cache.set(session)
		}
	}

	if time.Now().After(session.ExpiresAt) {
		if s.cache != nil {
			s.cache.del(tokenHash)
		}

		// Delete expired session.
		_ = s.store.DeleteSession(ctx, session.ID)

		return nil, ErrInvalidToken
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if user == nil || !user.IsActive {
		return nil, ErrInvalidToken
	}

	return user, nil
}

// Logout invalidates a token.
func (s *service) Logout(ctx context.Context, token string) error {
	tokenHash := hashToken(token)

	if s.cache != nil {
		s.cache.del(tokenHash)
	}

	session, err := s.store.GetSessionByToken(ctx, tokenHash)
	if err != nil {
		return fmt.Errorf("getting session: %w", err)
	}

	if session == nil {
		return nil
	}

	if err := s.store.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	if user, err := s.store.GetUser(ctx, session.UserID); err == nil && user != nil {
		s.audit(ctx, store.AuditActionUserLogout, user, "")
	}

	return nil
}

// IsStaff reports whether a user may use the admin surface.
func (s *service) IsStaff(user *store.User) bool {
	return user != nil && user.IsActive && (user.IsStaff || user.IsSuperuser)
}

// createSession creates a new session for a user.
func (s *service) createSession(ctx context.Context, user *store.User) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	now := time.Now().UTC()

	session := &store.Session{
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	return token, nil
}

func (s *service) audit(ctx context.Context, action store.AuditAction, user *store.User, details string) {
	entry := &store.AuditEntry{
		Action:     action,
		EntityType: store.AuditEntityUser,
		EntityID:   strconv.FormatInt(user.ID, 10),
		Actor:      user.Email,
		Details:    details,
	}

	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("Failed to record audit entry")
	}
}

// cleanupSessions periodically removes expired sessions and OAuth states.
func (s *service) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.DeleteExpiredSessions(ctx); err != nil {
				s.log.WithError(err).Error("Failed to cleanup expired sessions")
			}

			if err := s.store.DeleteExpiredOAuthStates(ctx); err != nil {
				s.log.WithError(err).Error("Failed to cleanup expired oauth states")
			}
		}
	}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// generateToken generates a cryptographically secure random token.
func generateToken() (string, error) {
	bytes := make([]byte, 32)

	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(bytes), nil
}

// hashToken hashes a token for storage.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))

	return hex.EncodeToString(hash[:])
}

const oauthStateTTL = 5 * time.Minute

// CreateOAuthState generates a random state token for CSRF protection.
func (s *service) CreateOAuthState(ctx context.Context) (string, error) {
	state, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	now := time.Now().UTC()

	oauthState := &store.OAuthState{
		State:     state,
		ExpiresAt: now.Add(oauthStateTTL),
		CreatedAt: now,
	}

	if err := s.store.CreateOAuthState(ctx, oauthState); err != nil {
		return "", fmt.Errorf("storing oauth state: %w", err)
	}

	return state, nil
}

// ValidateOAuthState validates and consumes an OAuth state token.
func (s *service) ValidateOAuthState(ctx context.Context, state string) error {
	oauthState, err := s.store.GetOAuthState(ctx, state)
	if err != nil {
		return fmt.Errorf("getting oauth state: %w", err)
	}

	if oauthState == nil {
		return fmt.Errorf("invalid oauth state")
	}

	// Delete the state (single use).
	if err := s.store.DeleteOAuthState(ctx, state); err != nil {
		s.log.WithError(err).Error("Failed to delete oauth state")
	}

	if time.Now().After(oauthState.ExpiresAt) {
		return fmt.Errorf("oauth state expired")
	}

	return nil
}
