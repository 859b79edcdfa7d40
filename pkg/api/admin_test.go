package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminRequiresStaff(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("user@example.com")

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/admin/", "", nil).Code)

	rec := ts.do(http.MethodGet, "/admin/users/", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You do not have permission to perform this action.", decode[ErrorResponse](t, rec).Error)
}

func TestAdminIndex(t *testing.T) {
	ts := newTestServer(t, nil)
	_, admin := ts.staff("admin@example.com")

	token := ts.login("cook@example.com")
	ts.createRecipe(token, sampleRecipe("Stew", "Winter"))

	rec := ts.do(http.MethodGet, "/admin/", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[AdminIndexResponse](t, rec)
	require.NotNil(t, resp.Counts)
	assert.Equal(t, 2, resp.Counts.Users)
	assert.Equal(t, 1, resp.Counts.Recipes)
	assert.Equal(t, 1, resp.Counts.Tags)
	assert.Contains(t, resp.Models, "audit")
}

func TestAdminUsers(t *testing.T) {
	ts := newTestServer(t, nil)
	staff, admin := ts.staff("admin@example.com")
	token := ts.login("cook@example.com")

	rec := ts.do(http.MethodGet, "/admin/users/?search=cook", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[AdminUserListResponse](t, rec)
	require.Equal(t, 1, list.Total)
	require.Len(t, list.Users, 1)

	cook := list.Users[0]
	assert.Equal(t, "cook@example.com", cook.Email)
	assert.True(t, cook.IsActive)
	assert.False(t, cook.IsStaff)

	path := fmt.Sprintf("/admin/users/%d/", cook.ID)

	t.Run("get", func(t *testing.T) {
		rec := ts.do(http.MethodGet, path, admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, cook.Email, decode[AdminUserResponse](t, rec).Email)

		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/admin/users/9999/", admin, nil).Code)
	})

	t.Run("cannot deactivate self", func(t *testing.T) {
		rec := ts.do(http.MethodPatch, fmt.Sprintf("/admin/users/%d/", staff.ID), admin,
			map[string]any{"is_active": false})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cannot demote self", func(t *testing.T) {
		self := fmt.Sprintf("/admin/users/%d/", staff.ID)

		rec := ts.do(http.MethodPatch, self, admin, map[string]any{"is_staff": false})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(http.MethodPatch, self, admin, map[string]any{"is_superuser": false})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(http.MethodGet, self, admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		me := decode[AdminUserResponse](t, rec)
		assert.True(t, me.IsStaff)
		assert.True(t, me.IsSuperuser)
	})

	t.Run("name is validated", func(t *testing.T) {
		rec := ts.do(http.MethodPatch, path, admin, map[string]any{"name": "   "})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"This field may not be blank."},
			decode[ValidationErrorResponse](t, rec).Fields["name"])

		rec = ts.do(http.MethodPatch, path, admin, map[string]any{"name": strings.Repeat("n", 256)})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ValidationErrorResponse](t, rec).Fields, "name")
	})

	t.Run("deactivate revokes tokens", func(t *testing.T) {
		require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/user/me/", token, nil).Code)

		rec := ts.do(http.MethodPatch, path, admin, map[string]any{"is_active": false, "name": "Retired"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		updated := decode[AdminUserResponse](t, rec)
		assert.False(t, updated.IsActive)
		assert.Equal(t, "Retired", updated.Name)

		assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/user/me/", token, nil).Code)

		rec = ts.do(http.MethodGet, "/admin/audit/?entity_type=user&action=user_updated", admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		audit := decode[AuditListResponse](t, rec)
		require.NotEmpty(t, audit.Entries)
		assert.Equal(t, "admin@example.com", audit.Entries[0].Actor)
		assert.Equal(t, fmt.Sprint(cook.ID), audit.Entries[0].EntityID)
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest,
			ts.do(http.MethodDelete, fmt.Sprintf("/admin/users/%d/", staff.ID), admin, nil).Code)

		require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, path, admin, nil).Code)
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, admin, nil).Code)
	})
}

func TestAdminRecipes(t *testing.T) {
	ts := newTestServer(t, nil)
	_, admin := ts.staff("admin@example.com")

	alice := ts.login("alice@example.com")
	bob := ts.login("bob@example.com")

	mine := ts.createRecipe(alice, sampleRecipe("Alice's", "Quick"))
	ts.createRecipe(bob, sampleRecipe("Bob's", "Slow"))

	rec := ts.do(http.MethodGet, "/admin/recipes/", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	all := decode[[]AdminRecipeResponse](t, rec)
	require.Len(t, all, 2)

	rec = ts.do(http.MethodGet, fmt.Sprintf("/admin/recipes/?user_id=%d", all[1].UserID), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	filtered := decode[[]AdminRecipeResponse](t, rec)
	require.Len(t, filtered, 1)
	assert.Equal(t, mine.ID, filtered[0].ID)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/admin/recipes/?user_id=x", admin, nil).Code)

	rec = ts.do(http.MethodGet, "/admin/tags/", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AdminAttributeResponse](t, rec), 2)

	rec = ts.do(http.MethodGet, "/admin/ingredients/", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AdminAttributeResponse](t, rec))

	path := fmt.Sprintf("/admin/recipes/%d/", mine.ID)
	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, path, admin, nil).Code)

	rec = ts.do(http.MethodGet, "/api/recipe/recipes/", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]RecipeResponse](t, rec))
}

func TestAdminAuditFilters(t *testing.T) {
	ts := newTestServer(t, nil)
	_, admin := ts.staff("admin@example.com")

	token := ts.login("cook@example.com")
	ts.createRecipe(token, sampleRecipe("Logged"))

	rec := ts.do(http.MethodGet, "/admin/audit/?entity_type=recipe", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	audit := decode[AuditListResponse](t, rec)
	require.Equal(t, 1, audit.Total)
	assert.Equal(t, "recipe_created", string(audit.Entries[0].Action))
	assert.Equal(t, "cook@example.com", audit.Entries[0].Actor)

	rec = ts.do(http.MethodGet, "/admin/audit/?limit=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[AuditListResponse](t, rec)
	assert.Len(t, page.Entries, 1)
	assert.Greater(t, page.Total, 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/admin/audit/?since=yesterday", admin, nil).Code)
}
