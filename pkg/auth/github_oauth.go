package auth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/google/go-github/v60/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// GitHubUser represents the parts of a GitHub profile used to sign in.
type GitHubUser struct {
	ID    string
	Login string
	Name  string
	Email string // primary verified email, may be empty
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (s *service) GitHubEnabled() bool {
	return s.cfg.Auth.GitHub.Enabled
}

func (s *service) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.Auth.GitHub.ClientID,
		ClientSecret: s.cfg.Auth.GitHub.ClientSecret,
		RedirectURL:  s.cfg.Auth.GitHub.RedirectURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     s.githubEndpoint,
	}
}

// GetGitHubAuthURL returns the GitHub OAuth authorization URL.
func (s *service) GetGitHubAuthURL(state string) string {
	return s.oauthConfig().AuthCodeURL(state)
}

// fetchGitHubUser exchanges an OAuth code and loads the user's profile and
// primary verified email.
func (s *service) fetchGitHubUser(ctx context.Context, code string) (*GitHubUser, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg := s.oauthConfig()

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	client := github.NewClient(cfg.Client(ctx, token))

	if s.githubAPIURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(s.githubAPIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github api url: %w", err)
		}

		client.BaseURL = baseURL
	}

	ghUser, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("getting github user: %w", err)
	}

	emails, _, err := client.Users.ListEmails(ctx, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("listing github emails: %w", err)
	}

	user := &GitHubUser{
		ID:    strconv.FormatInt(ghUser.GetID(), 10),
		Login: ghUser.GetLogin(),
		Name:  ghUser.GetName(),
	}

	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			user.Email = e.GetEmail()

			break
		}
	}

	return user, nil
}

// AuthenticateGitHub signs a user in with a GitHub OAuth code. Users are
// matched by GitHub ID, then by verified primary email; otherwise a new
// account is created.
func (s *service) AuthenticateGitHub(ctx context.Context, code string) (*store.User, string, error) {
	if !s.cfg.Auth.GitHub.Enabled {
		return nil, "", ErrGitHubDisabled
	}

	ghUser, err := s.fetchGitHubUser(ctx, code)
	if err != nil {
		return nil, "", err
	}

	user, err := s.store.GetUserByGitHubID(ctx, ghUser.ID)
	if err != nil {
		return nil, "", fmt.Errorf("getting user by github id: %w", err)
	}

	email := NormalizeEmail(ghUser.Email)

	if user == nil && email != "" {
		user, err = s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, "", fmt.Errorf("getting user by email: %w", err)
		}

		if user != nil {
			user.GitHubID = ghUser.ID

			if err := s.store.UpdateUser(ctx, user); err != nil {
				return nil, "", fmt.Errorf("linking github account: %w", err)
			}

			s.log.WithField("email", user.Email).Info("Linked GitHub account to existing user")
		}
	}

	if user == nil {
		if email == "" {
			return nil, "", fmt.Errorf("github account %s has no verified primary email", ghUser.Login)
		}

		name := ghUser.Name
		if name == "" {
			name = ghUser.Login
		}

		user = &store.User{
			Email:    email,
			Name:     name,
			IsActive: true,
			GitHubID: ghUser.ID,
		}

		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("creating user: %w", err)
		}

		s.audit(ctx, store.AuditActionUserCreated, user, "github")

		s.log.WithField("email", user.Email).Info("Created GitHub user")
	}

	if !user.IsActive {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("creating session: %w", err)
	}

	s.audit(ctx, store.AuditActionUserLogin, user, "github")

	s.log.WithFields(logrus.Fields{
		"email":  user.Email,
		"github": ghUser.Login,
	}).Info("User authenticated via GitHub")

	return user, token, nil
}
