package api

import (
	"errors"
	"net/http"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
)

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID    int64  `json:"id" example:"1"`
	Email string `json:"email" example:"user@example.com"`
	Name  string `json:"name" example:"Test Name"`
}

func newUserResponse(user *store.User) UserResponse {
	return UserResponse{ID: user.ID, Email: user.Email, Name: user.Name}
}

// CreateUserRequest is the request body for registration.
type CreateUserRequest struct {
	Email    string `json:"email" example:"user@example.com"`
	Password string `json:"password" example:"testpass123"`
	Name     string `json:"name" example:"Test Name"`
}

// TokenRequest is the request body for issuing an API token.
type TokenRequest struct {
	Email    string `json:"email" example:"user@example.com"`
	Password string `json:"password" example:"testpass123"`
}

// TokenResponse carries a newly issued API token.
type TokenResponse struct {
	Token string `json:"token" example:"k3Z0cG9pbnQtdG9rZW4tZXhhbXBsZQ"`
}

// handleCreateUser godoc
//
//	@Summary		Create user
//	@Description	Registers a new user account
//	@Tags			user
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateUserRequest	true	"Account details"
//	@Success		201		{object}	UserResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		429		{object}	ErrorResponse	"Rate limit exceeded"
//	@Router			/api/user/create/ [post]
func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		s.writeServiceError(w, err, "create user")

		return
	}

	s.metrics.RecordUserRegistered("password")

	s.writeJSON(w, http.StatusCreated, newUserResponse(user))
}

// handleCreateToken godoc
//
//	@Summary		Create token
//	@Description	Exchanges an email and password for an API token
//	@Tags			user
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TokenRequest	true	"Credentials"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		429		{object}	ErrorResponse	"Rate limit exceeded"
//	@Router			/api/user/token/ [post]
func (s *server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	verr := validation.NewError()

	if req.Email == "" {
		verr.Add("email", validation.MsgBlank)
	}

	if req.Password == "" {
		verr.Add("password", validation.MsgBlank)
	}

	if !verr.Empty() {
		s.writeValidation(w, verr)

		return
	}

	_, token, err := s.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.metrics.RecordLogin("password", false)

		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.writeError(w, http.StatusBadRequest, "Unable to authenticate with provided credentials.")

			return
		}

		s.writeServiceError(w, err, "create token")

		return
	}

	s.metrics.RecordLogin("password", true)

	s.setSessionCookie(w, r, token, int(s.cfg.Auth.SessionTTL.Seconds()))
	s.writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// handleGetMe godoc
//
//	@Summary		Get profile
//	@Description	Returns the authenticated user
//	@Tags			user
//	@Security		TokenAuth
//	@Produce		json
//	@Success		200	{object}	UserResponse
//	@Failure		401	{object}	ErrorResponse
//	@Router			/api/user/me/ [get]
func (s *server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	s.writeJSON(w, http.StatusOK, newUserResponse(user))
}

// handleUpdateMe godoc
//
//	@Summary		Update profile
//	@Description	Updates the authenticated user. PUT requires email, password and name; PATCH accepts any subset.
//	@Tags			user
//	@Security		TokenAuth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateUserRequest	true	"Profile fields"
//	@Success		200		{object}	UserResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Router			/api/user/me/ [put]
//	@Router			/api/user/me/ [patch]
func (s *server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var in auth.ProfileInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	user, err := s.auth.UpdateProfile(r.Context(), auth.UserFromContext(r.Context()), in,
		r.Method == http.MethodPatch)
	if err != nil {
		s.writeServiceError(w, err, "update user")

		return
	}

	s.writeJSON(w, http.StatusOK, newUserResponse(user))
}

// handleLogout godoc
//
//	@Summary		Logout
//	@Description	Invalidates the token used for the request
//	@Tags			user
//	@Security		TokenAuth
//	@Success		204	"Logged out successfully"
//	@Failure		401	{object}	ErrorResponse
//	@Router			/api/user/logout/ [post]
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.ExtractToken(r); token != "" {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			s.log.WithError(err).Warn("Logout error")
		}
	}

	s.setSessionCookie(w, r, "", -1)

	w.WriteHeader(http.StatusNoContent)
}

// handleGitHubAuth godoc
//
//	@Summary		GitHub sign-in
//	@Description	Redirects to GitHub to authorize the application
//	@Tags			user
//	@Success		307	"Redirect to GitHub"
//	@Failure		404	{object}	ErrorResponse	"GitHub sign-in not enabled"
//	@Failure		429	{object}	ErrorResponse	"Rate limit exceeded"
//	@Router			/api/user/github/ [get]
func (s *server) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	if !s.auth.GitHubEnabled() {
		s.writeError(w, http.StatusNotFound, "GitHub sign-in is not enabled")

		return
	}

	// Generate cryptographically secure state for CSRF protection.
	state, err := s.auth.CreateOAuthState(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to create OAuth state")
		s.writeError(w, http.StatusInternalServerError, "Failed to initiate OAuth flow")

		return
	}

	http.Redirect(w, r, s.auth.GetGitHubAuthURL(state), http.StatusTemporaryRedirect)
}

// handleGitHubCallback godoc
//
//	@Summary		GitHub sign-in callback
//	@Description	Completes GitHub sign-in and returns an API token
//	@Tags			user
//	@Produce		json
//	@Param			code	query		string	true	"OAuth authorization code"
//	@Param			state	query		string	true	"OAuth state for CSRF validation"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse	"GitHub sign-in not enabled"
//	@Failure		429		{object}	ErrorResponse	"Rate limit exceeded"
//	@Router			/api/user/github/callback/ [get]
func (s *server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if !s.auth.GitHubEnabled() {
		s.writeError(w, http.StatusNotFound, "GitHub sign-in is not enabled")

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, http.StatusBadRequest, "Missing code parameter")

		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		s.writeError(w, http.StatusBadRequest, "Missing state parameter")

		return
	}

	if err := s.auth.ValidateOAuthState(r.Context(), state); err != nil {
		s.log.WithError(err).Warn("Invalid OAuth state")
		s.writeError(w, http.StatusBadRequest, "Invalid or expired state parameter")

		return
	}

	_, token, err := s.auth.AuthenticateGitHub(r.Context(), code)
	if err != nil {
		s.metrics.RecordLogin("github", false)
		s.log.WithError(err).Warn("GitHub auth failed")
		s.writeError(w, http.StatusUnauthorized, "Authentication failed")

		return
	}

	s.metrics.RecordLogin("github", true)

	s.setSessionCookie(w, r, token, int(s.cfg.Auth.SessionTTL.Seconds()))
	s.writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}
