package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecipe(title string, tags ...string) map[string]any {
	refs := make([]map[string]string, 0, len(tags))
	for _, tag := range tags {
		refs = append(refs, map[string]string{"name": tag})
	}

	return map[string]any{
		"title":        title,
		"time_minutes": 22,
		"price":        "5.25",
		"description":  "Sample description",
		"link":         "http://example.com/recipe.pdf",
		"tags":         refs,
	}
}

func (ts *testServer) createRecipe(token string, body map[string]any) RecipeDetailResponse {
	ts.t.Helper()

	rec := ts.do(http.MethodPost, "/api/recipe/recipes/", token, body)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	return decode[RecipeDetailResponse](ts.t, rec)
}

func tagNames(tags []TagResponse) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}

	return out
}

func TestRecipesRequireAuthentication(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/api/recipe/recipes/", "/api/recipe/tags/", "/api/recipe/ingredients/"} {
		rec := ts.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCreateAndGetRecipe(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")

	body := sampleRecipe("Thai Prawn Curry", "Thai", "Dinner")
	body["ingredients"] = []map[string]string{{"name": "Prawns"}, {"name": "Coconut milk"}}

	created := ts.createRecipe(token, body)
	assert.Equal(t, "Thai Prawn Curry", created.Title)
	assert.Equal(t, 22, created.TimeMinutes)
	assert.Equal(t, store.MustParsePrice("5.25"), created.Price)
	assert.Equal(t, "Sample description", created.Description)
	assert.ElementsMatch(t, []string{"Thai", "Dinner"}, tagNames(created.Tags))
	assert.Len(t, created.Ingredients, 2)

	rec := ts.do(http.MethodGet, fmt.Sprintf("/api/recipe/recipes/%d/", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":"5.25"`)
	assert.Equal(t, created, decode[RecipeDetailResponse](t, rec))
}

func TestCreateRecipeValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")

	t.Run("missing fields", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/recipe/recipes/", token, map[string]any{"link": "x"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[ValidationErrorResponse](t, rec)
		assert.Contains(t, resp.Fields, "title")
		assert.Contains(t, resp.Fields, "time_minutes")
		assert.Contains(t, resp.Fields, "price")
	})

	t.Run("bad price", func(t *testing.T) {
		body := sampleRecipe("Soup")
		body["price"] = "abc"

		rec := ts.do(http.MethodPost, "/api/recipe/recipes/", token, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"A valid number is required."}, decode[ValidationErrorResponse](t, rec).Fields["price"])
	})

	t.Run("bad time", func(t *testing.T) {
		body := sampleRecipe("Soup")
		body["time_minutes"] = "soon"

		rec := ts.do(http.MethodPost, "/api/recipe/recipes/", token, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"A valid integer is required."},
			decode[ValidationErrorResponse](t, rec).Fields["time_minutes"])
	})
}

func TestListRecipes(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")
	other := ts.login("other@example.com")

	first := ts.createRecipe(token, sampleRecipe("Porridge", "Breakfast"))
	second := ts.createRecipe(token, sampleRecipe("Salad", "Vegan"))
	ts.createRecipe(other, sampleRecipe("Not mine", "Vegan"))

	rec := ts.do(http.MethodGet, "/api/recipe/recipes/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "description")

	list := decode[[]RecipeResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	t.Run("tag filter", func(t *testing.T) {
		path := fmt.Sprintf("/api/recipe/recipes/?tags=%d", first.Tags[0].ID)

		rec := ts.do(http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		list := decode[[]RecipeResponse](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, "Porridge", list[0].Title)
	})

	t.Run("bad filter", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/recipe/recipes/?ingredients=a,b", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("paging", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/recipe/recipes/?limit=1&offset=1", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		list := decode[[]RecipeResponse](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)
	})
}

func TestRecipeOwnership(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.login("owner@example.com")
	other := ts.login("other@example.com")

	created := ts.createRecipe(owner, sampleRecipe("Private"))
	path := fmt.Sprintf("/api/recipe/recipes/%d/", created.ID)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, other, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPatch, path, other, map[string]any{"title": "Mine"}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, path, other, nil).Code)

	rec := ts.do(http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Private", decode[RecipeDetailResponse](t, rec).Title)
}

func TestUpdateRecipe(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")

	created := ts.createRecipe(token, sampleRecipe("Original", "Lunch"))
	path := fmt.Sprintf("/api/recipe/recipes/%d/", created.ID)

	t.Run("patch keeps other fields", func(t *testing.T) {
		rec := ts.do(http.MethodPatch, path, token, map[string]any{"title": "Renamed"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		updated := decode[RecipeDetailResponse](t, rec)
		assert.Equal(t, "Renamed", updated.Title)
		assert.Equal(t, created.Link, updated.Link)
		assert.Equal(t, []string{"Lunch"}, tagNames(updated.Tags))
	})

	t.Run("patch clears tags", func(t *testing.T) {
		rec := ts.do(http.MethodPatch, path, token, map[string]any{"tags": []any{}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[RecipeDetailResponse](t, rec).Tags)
	})

	t.Run("put requires fields", func(t *testing.T) {
		rec := ts.do(http.MethodPut, path, token, map[string]any{"title": "Only title"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[ValidationErrorResponse](t, rec)
		assert.Contains(t, resp.Fields, "time_minutes")
		assert.Contains(t, resp.Fields, "price")
	})

	t.Run("put replaces", func(t *testing.T) {
		rec := ts.do(http.MethodPut, path, token, map[string]any{
			"title": "Replaced", "time_minutes": 5, "price": "1.00",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		updated := decode[RecipeDetailResponse](t, rec)
		assert.Equal(t, "Replaced", updated.Title)
		assert.Equal(t, 5, updated.TimeMinutes)
		assert.Equal(t, store.MustParsePrice("1.00"), updated.Price)
	})
}

func TestDeleteRecipe(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")

	created := ts.createRecipe(token, sampleRecipe("Doomed"))
	path := fmt.Sprintf("/api/recipe/recipes/%d/", created.ID)

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, path, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/recipe/recipes/abc/", token, nil).Code)
}

func TestTagEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")

	created := ts.createRecipe(token, sampleRecipe("Pie", "Dessert", "Baking"))

	// A tag left behind after its recipe is edited is unassigned.
	rec := ts.do(http.MethodPatch, fmt.Sprintf("/api/recipe/recipes/%d/", created.ID), token,
		map[string]any{"tags": []map[string]string{{"name": "Dessert"}}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/recipe/tags/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Dessert", "Baking"}, tagNames(decode[[]TagResponse](t, rec)))

	rec = ts.do(http.MethodGet, "/api/recipe/tags/?assigned_only=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assigned := decode[[]TagResponse](t, rec)
	require.Len(t, assigned, 1)
	assert.Equal(t, "Dessert", assigned[0].Name)

	tagPath := fmt.Sprintf("/api/recipe/tags/%d/", assigned[0].ID)

	rec = ts.do(http.MethodPatch, tagPath, token, map[string]string{"name": "Sweet"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Sweet", decode[TagResponse](t, rec).Name)

	rec = ts.do(http.MethodPut, tagPath, token, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ValidationErrorResponse](t, rec).Fields, "name")

	other := ts.login("other@example.com")
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, tagPath, other, nil).Code)

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, tagPath, token, nil).Code)

	rec = ts.do(http.MethodGet, fmt.Sprintf("/api/recipe/recipes/%d/", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[RecipeDetailResponse](t, rec).Tags)
}

func TestIngredientEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login("cook@example.com")

	body := sampleRecipe("Omelette")
	body["ingredients"] = []map[string]string{{"name": "Eggs"}, {"name": "Cheese"}}
	ts.createRecipe(token, body)

	rec := ts.do(http.MethodGet, "/api/recipe/ingredients/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ingredients := decode[[]IngredientResponse](t, rec)
	require.Len(t, ingredients, 2)
	assert.Equal(t, "Eggs", ingredients[0].Name)
	assert.Equal(t, "Cheese", ingredients[1].Name)

	path := fmt.Sprintf("/api/recipe/ingredients/%d/", ingredients[1].ID)

	rec = ts.do(http.MethodPatch, path, token, map[string]string{"name": "Eggs"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ValidationErrorResponse](t, rec).Fields, "name")

	rec = ts.do(http.MethodPut, path, token, map[string]string{"name": "Cheddar"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cheddar", decode[IngredientResponse](t, rec).Name)

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, path, token, nil).Code)

	rec = ts.do(http.MethodGet, "/api/recipe/ingredients/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]IngredientResponse](t, rec), 1)
}
