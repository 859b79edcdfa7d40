package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
	"github.com/sirupsen/logrus"
)

const (
	adminDefaultLimit = 50
	adminMaxLimit     = 500
)

// AdminIndexResponse lists the administrable models with row counts.
type AdminIndexResponse struct {
	Counts *store.Stats `json:"counts"`
	Models []string     `json:"models" example:"users,recipes,tags,ingredients,audit"`
}

// AdminUserResponse is the full representation of a user for staff.
type AdminUserResponse struct {
	ID          int64     `json:"id" example:"1"`
	Email       string    `json:"email" example:"user@example.com"`
	Name        string    `json:"name" example:"Test Name"`
	IsActive    bool      `json:"is_active" example:"true"`
	IsStaff     bool      `json:"is_staff" example:"false"`
	IsSuperuser bool      `json:"is_superuser" example:"false"`
	GitHubID    string    `json:"github_id,omitempty" example:"583231"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newAdminUserResponse(u *store.User) AdminUserResponse {
	return AdminUserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		IsActive:    u.IsActive,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		GitHubID:    u.GitHubID,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// AdminUserListResponse is a page of users.
type AdminUserListResponse struct {
	Users []AdminUserResponse `json:"users"`
	Total int                 `json:"total" example:"1"`
}

// AdminUpdateUserRequest changes account flags. Absent fields are left unchanged.
type AdminUpdateUserRequest struct {
	Name        *string `json:"name,omitempty" example:"Test Name"`
	IsActive    *bool   `json:"is_active,omitempty" example:"true"`
	IsStaff     *bool   `json:"is_staff,omitempty" example:"false"`
	IsSuperuser *bool   `json:"is_superuser,omitempty" example:"false"`
}

type adminUserFields struct {
	Name string `json:"name" validate:"required,max=255"`
}

// AdminRecipeResponse is a recipe with its owner.
type AdminRecipeResponse struct {
	RecipeDetailResponse
	UserID    int64     `json:"user_id" example:"1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminAttributeResponse is a tag or ingredient with its owner.
type AdminAttributeResponse struct {
	ID     int64  `json:"id" example:"1"`
	UserID int64  `json:"user_id" example:"1"`
	Name   string `json:"name" example:"Vegan"`
}

// AuditListResponse is a page of audit entries.
type AuditListResponse struct {
	Entries []*store.AuditEntry `json:"entries"`
	Total   int                 `json:"total" example:"1"`
}

// queryUserID reads the optional user_id filter. It writes a 400 and returns
// false when the value is malformed.
func (s *server) queryUserID(w http.ResponseWriter, r *http.Request) (*int64, bool) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return nil, true
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid user_id filter")

		return nil, false
	}

	return &id, true
}

// adminAudit records a staff action. Failures are logged, not returned.
func (s *server) adminAudit(
	ctx context.Context, action store.AuditAction, entityType store.AuditEntityType,
	id int64, details string,
) {
	actor := auth.UserFromContext(ctx)

	entry := &store.AuditEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   strconv.FormatInt(id, 10),
		Actor:      actor.Email,
		Details:    details,
	}

	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("Failed to record audit entry")
	}
}

// handleAdminIndex godoc
//
//	@Summary		Admin index
//	@Description	Lists the administrable models with their row counts. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Success		200	{object}	AdminIndexResponse
//	@Failure		401	{object}	ErrorResponse
//	@Failure		403	{object}	ErrorResponse
//	@Router			/admin/ [get]
func (s *server) handleAdminIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to get stats")
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats")

		return
	}

	s.writeJSON(w, http.StatusOK, AdminIndexResponse{
		Counts: stats,
		Models: []string{"users", "recipes", "tags", "ingredients", "audit"},
	})
}

// ============================================================================
// Users
// ============================================================================

// handleAdminListUsers godoc
//
//	@Summary		List users
//	@Description	Lists all users ordered by ID. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Param			search	query		string	false	"Substring of email or name"
//	@Param			limit	query		int		false	"Maximum number of users (default 50, max 500)"
//	@Param			offset	query		int		false	"Number of users to skip"
//	@Success		200		{object}	AdminUserListResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Router			/admin/users/ [get]
func (s *server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r, adminDefaultLimit, adminMaxLimit)

	users, total, err := s.store.ListUsers(r.Context(), store.UserQueryOpts{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		s.writeError(w, http.StatusInternalServerError, "Failed to list users")

		return
	}

	out := make([]AdminUserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newAdminUserResponse(u))
	}

	s.writeJSON(w, http.StatusOK, AdminUserListResponse{Users: out, Total: total})
}

// loadUser fetches the user named by the {id} path parameter, writing a
// response and returning nil when it cannot.
func (s *server) loadUser(w http.ResponseWriter, r *http.Request) *store.User {
	id, ok := s.pathID(w, r)
	if !ok {
		return nil
	}

	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to get user")
		s.writeError(w, http.StatusInternalServerError, "Failed to get user")

		return nil
	}

	if user == nil {
		s.writeError(w, http.StatusNotFound, "Not found.")

		return nil
	}

	return user
}

// handleAdminGetUser godoc
//
//	@Summary		Get user
//	@Description	Returns a single user. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Param			id	path		int	true	"User ID"
//	@Success		200	{object}	AdminUserResponse
//	@Failure		401	{object}	ErrorResponse
//	@Failure		403	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/admin/users/{id}/ [get]
func (s *server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	user := s.loadUser(w, r)
	if user == nil {
		return
	}

	s.writeJSON(w, http.StatusOK, newAdminUserResponse(user))
}

// handleAdminUpdateUser godoc
//
//	@Summary		Update user
//	@Description	Changes a user's name or account flags. Deactivating a user revokes their tokens.
//	@Description	Staff cannot deactivate or demote themselves. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int						true	"User ID"
//	@Param			body	body		AdminUpdateUserRequest	true	"Fields to change"
//	@Success		200		{object}	AdminUserResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/admin/users/{id}/ [patch]
func (s *server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	user := s.loadUser(w, r)
	if user == nil {
		return
	}

	var req AdminUpdateUserRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	actor := auth.UserFromContext(r.Context())

	if actor.ID == user.ID {
		if req.IsActive != nil && !*req.IsActive {
			s.writeError(w, http.StatusBadRequest, "You cannot deactivate your own account.")

			return
		}

		if (req.IsStaff != nil && !*req.IsStaff) || (req.IsSuperuser != nil && !*req.IsSuperuser) {
			s.writeError(w, http.StatusBadRequest, "You cannot remove your own staff status.")

			return
		}
	}

	changes := make([]string, 0, 4)

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)

		if err := validation.Struct(adminUserFields{Name: name}); err != nil {
			s.writeServiceError(w, err, "update user")

			return
		}

		user.Name = name
		changes = append(changes, "name")
	}

	if req.IsActive != nil {
		user.IsActive = *req.IsActive
		changes = append(changes, fmt.Sprintf("is_active=%t", *req.IsActive))
	}

	if req.IsStaff != nil {
		user.IsStaff = *req.IsStaff
		changes = append(changes, fmt.Sprintf("is_staff=%t", *req.IsStaff))
	}

	if req.IsSuperuser != nil {
		user.IsSuperuser = *req.IsSuperuser
		changes = append(changes, fmt.Sprintf("is_superuser=%t", *req.IsSuperuser))
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		s.writeError(w, http.StatusInternalServerError, "Failed to update user")

		return
	}

	if !user.IsActive {
		if err := s.store.DeleteUserSessions(r.Context(), user.ID); err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Warn("Failed to revoke sessions")
		}
	}

	s.adminAudit(r.Context(), store.AuditActionUserUpdated, store.AuditEntityUser, user.ID,
		strings.Join(changes, ", "))

	s.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"actor":   actor.Email,
		"changes": changes,
	}).Info("Updated user")

	s.writeJSON(w, http.StatusOK, newAdminUserResponse(user))
}

// handleAdminDeleteUser godoc
//
//	@Summary		Delete user
//	@Description	Deletes a user together with their recipes, tags and ingredients. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Param			id	path	int	true	"User ID"
//	@Success		204	"User deleted"
//	@Failure		400	{object}	ErrorResponse
//	@Failure		401	{object}	ErrorResponse
//	@Failure		403	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/admin/users/{id}/ [delete]
func (s *server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	user := s.loadUser(w, r)
	if user == nil {
		return
	}

	actor := auth.UserFromContext(r.Context())
	if actor.ID == user.ID {
		s.writeError(w, http.StatusBadRequest, "You cannot delete your own account.")

		return
	}

	if err := s.store.DeleteUser(r.Context(), user.ID); err != nil {
		s.log.WithError(err).Error("Failed to delete user")
		s.writeError(w, http.StatusInternalServerError, "Failed to delete user")

		return
	}

	s.adminAudit(r.Context(), store.AuditActionUserDeleted, store.AuditEntityUser, user.ID, user.Email)

	s.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"actor":   actor.Email,
	}).Info("Deleted user")

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Recipes, tags and ingredients
// ============================================================================

// handleAdminListRecipes godoc
//
//	@Summary		List all recipes
//	@Description	Lists recipes of every user, newest first. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Param			user_id	query		int	false	"Only recipes owned by this user"
//	@Param			limit	query		int	false	"Maximum number of recipes (default 50, max 500)"
//	@Param			offset	query		int	false	"Number of recipes to skip"
//	@Success		200		{array}		AdminRecipeResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Router			/admin/recipes/ [get]
func (s *server) handleAdminListRecipes(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUserID(w, r)
	if !ok {
		return
	}

	limit, offset := parsePage(r, adminDefaultLimit, adminMaxLimit)

	recipes, err := s.store.ListRecipes(r.Context(), store.RecipeQueryOpts{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to list recipes")
		s.writeError(w, http.StatusInternalServerError, "Failed to list recipes")

		return
	}

	out := make([]AdminRecipeResponse, 0, len(recipes))
	for _, rec := range recipes {
		out = append(out, AdminRecipeResponse{
			RecipeDetailResponse: newRecipeDetail(rec),
			UserID:               rec.UserID,
			CreatedAt:            rec.CreatedAt,
			UpdatedAt:            rec.UpdatedAt,
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleAdminDeleteRecipe godoc
//
//	@Summary		Delete any recipe
//	@Description	Deletes a recipe regardless of its owner. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Param			id	path	int	true	"Recipe ID"
//	@Success		204	"Recipe deleted"
//	@Failure		401	{object}	ErrorResponse
//	@Failure		403	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/admin/recipes/{id}/ [delete]
func (s *server) handleAdminDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.recipes.ForceDeleteRecipe(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		s.writeServiceError(w, err, "delete recipe")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAdminListTags godoc
//
//	@Summary		List all tags
//	@Description	Lists tags of every user. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Param			user_id	query		int	false	"Only tags owned by this user"
//	@Success		200		{array}		AdminAttributeResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Router			/admin/tags/ [get]
func (s *server) handleAdminListTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUserID(w, r)
	if !ok {
		return
	}

	tags, err := s.store.ListTags(r.Context(), store.AttributeQueryOpts{UserID: userID})
	if err != nil {
		s.log.WithError(err).Error("Failed to list tags")
		s.writeError(w, http.StatusInternalServerError, "Failed to list tags")

		return
	}

	out := make([]AdminAttributeResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, AdminAttributeResponse{ID: t.ID, UserID: t.UserID, Name: t.Name})
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleAdminListIngredients godoc
//
//	@Summary		List all ingredients
//	@Description	Lists ingredients of every user. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Param			user_id	query		int	false	"Only ingredients owned by this user"
//	@Success		200		{array}		AdminAttributeResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Router			/admin/ingredients/ [get]
func (s *server) handleAdminListIngredients(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUserID(w, r)
	if !ok {
		return
	}

	ingredients, err := s.store.ListIngredients(r.Context(), store.AttributeQueryOpts{UserID: userID})
	if err != nil {
		s.log.WithError(err).Error("Failed to list ingredients")
		s.writeError(w, http.StatusInternalServerError, "Failed to list ingredients")

		return
	}

	out := make([]AdminAttributeResponse, 0, len(ingredients))
	for _, i := range ingredients {
		out = append(out, AdminAttributeResponse{ID: i.ID, UserID: i.UserID, Name: i.Name})
	}

	s.writeJSON(w, http.StatusOK, out)
}

// ============================================================================
// Audit log
// ============================================================================

// handleAdminListAudit godoc
//
//	@Summary		List audit entries
//	@Description	Returns audit log entries, newest first. Staff only.
//	@Tags			admin
//	@Security		TokenAuth
//	@Produce		json
//	@Param			entity_type	query		string	false	"Filter by entity type (recipe, tag, ingredient, user, session)"
//	@Param			entity_id	query		string	false	"Filter by entity ID"
//	@Param			action		query		string	false	"Filter by action"
//	@Param			actor		query		string	false	"Filter by actor email"
//	@Param			since		query		string	false	"Only entries at or after this RFC 3339 time"
//	@Param			until		query		string	false	"Only entries at or before this RFC 3339 time"
//	@Param			limit		query		int		false	"Maximum number of entries (default 50, max 500)"
//	@Param			offset		query		int		false	"Number of entries to skip"
//	@Success		200			{object}	AuditListResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		403			{object}	ErrorResponse
//	@Router			/admin/audit/ [get]
func (s *server) handleAdminListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.AuditQueryOpts{}

	if v := q.Get("entity_type"); v != "" {
		et := store.AuditEntityType(v)
		opts.EntityType = &et
	}

	if v := q.Get("entity_id"); v != "" {
		opts.EntityID = &v
	}

	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		opts.Action = &action
	}

	if v := q.Get("actor"); v != "" {
		opts.Actor = &v
	}

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{
		{"since", &opts.Since},
		{"until", &opts.Until},
	} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}

		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid "+bound.name+" parameter, expected RFC 3339")

			return
		}

		*bound.dst = &t
	}

	opts.Limit, opts.Offset = parsePage(r, adminDefaultLimit, adminMaxLimit)

	entries, total, err := s.store.ListAuditEntries(r.Context(), opts)
	if err != nil {
		s.log.WithError(err).Error("Failed to list audit entries")
		s.writeError(w, http.StatusInternalServerError, "Failed to list audit entries")

		return
	}

	s.writeJSON(w, http.StatusOK, AuditListResponse{Entries: entries, Total: total})
}
