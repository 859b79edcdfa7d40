package api

import (
	"net/http"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/recipe"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
)

// TagResponse is a tag or ingredient as shown to its owner.
type TagResponse struct {
	ID   int64  `json:"id" example:"1"`
	Name string `json:"name" example:"Vegan"`
}

// IngredientResponse is an ingredient as shown to its owner.
type IngredientResponse TagResponse

// RecipeResponse is a recipe as shown in listings.
type RecipeResponse struct {
	ID          int64                `json:"id" example:"1"`
	Title       string               `json:"title" example:"Sample recipe"`
	TimeMinutes int                  `json:"time_minutes" example:"22"`
	Price       store.Price          `json:"price" swaggertype:"string" example:"5.25"`
	Link        string               `json:"link" example:"http://example.com/recipe.pdf"`
	Tags        []TagResponse        `json:"tags"`
	Ingredients []IngredientResponse `json:"ingredients"`
}

// RecipeDetailResponse adds the description to RecipeResponse.
type RecipeDetailResponse struct {
	RecipeResponse
	Description string `json:"description" example:"Sample description"`
}

// RecipeRequest is the request body for creating or updating a recipe.
type RecipeRequest struct {
	Title       string           `json:"title" example:"Sample recipe"`
	TimeMinutes int              `json:"time_minutes" example:"22"`
	Price       string           `json:"price" example:"5.25"`
	Description string           `json:"description" example:"Sample description"`
	Link        string           `json:"link" example:"http://example.com/recipe.pdf"`
	Tags        []recipe.NameRef `json:"tags"`
	Ingredients []recipe.NameRef `json:"ingredients"`
}

// AttributeRequest is the request body for renaming a tag or ingredient.
type AttributeRequest struct {
	Name string `json:"name" example:"Dessert"`
}

func newTagResponses(tags []*store.Tag) []TagResponse {
	out := make([]TagResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, TagResponse{ID: t.ID, Name: t.Name})
	}

	return out
}

func newIngredientResponses(ingredients []*store.Ingredient) []IngredientResponse {
	out := make([]IngredientResponse, 0, len(ingredients))
	for _, i := range ingredients {
		out = append(out, IngredientResponse{ID: i.ID, Name: i.Name})
	}

	return out
}

func newRecipeResponse(r *store.Recipe) RecipeResponse {
	return RecipeResponse{
		ID:          r.ID,
		Title:       r.Title,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price,
		Link:        r.Link,
		Tags:        newTagResponses(r.Tags),
		Ingredients: newIngredientResponses(r.Ingredients),
	}
}

func newRecipeDetail(r *store.Recipe) RecipeDetailResponse {
	return RecipeDetailResponse{
		RecipeResponse: newRecipeResponse(r),
		Description:    r.Description,
	}
}

// ============================================================================
// Recipes
// ============================================================================

// handleListRecipes godoc
//
//	@Summary		List recipes
//	@Description	Returns the authenticated user's recipes, newest first
//	@Tags			recipe
//	@Security		TokenAuth
//	@Produce		json
//	@Param			tags		query		string	false	"Comma separated list of tag IDs to filter"
//	@Param			ingredients	query		string	false	"Comma separated list of ingredient IDs to filter"
//	@Param			limit		query		int		false	"Maximum number of recipes"
//	@Param			offset		query		int		false	"Number of recipes to skip"
//	@Success		200			{array}		RecipeResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Router			/api/recipe/recipes/ [get]
func (s *server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	tagIDs, err := parseIDList(r.URL.Query().Get("tags"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid tags filter")

		return
	}

	ingredientIDs, err := parseIDList(r.URL.Query().Get("ingredients"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid ingredients filter")

		return
	}

	limit, offset := parsePage(r, 0, 0)

	recipes, err := s.recipes.ListRecipes(r.Context(), auth.UserFromContext(r.Context()), recipe.Filter{
		TagIDs:        tagIDs,
		IngredientIDs: ingredientIDs,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		s.writeServiceError(w, err, "list recipes")

		return
	}

	out := make([]RecipeResponse, 0, len(recipes))
	for _, rec := range recipes {
		out = append(out, newRecipeResponse(rec))
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleCreateRecipe godoc
//
//	@Summary		Create recipe
//	@Description	Creates a recipe. Tags and ingredients are created on demand.
//	@Tags			recipe
//	@Security		TokenAuth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RecipeRequest	true	"Recipe"
//	@Success		201		{object}	RecipeDetailResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Router			/api/recipe/recipes/ [post]
func (s *server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var in recipe.Input
	if !s.decodeJSON(w, r, &in) {
		return
	}

	rec, err := s.recipes.CreateRecipe(r.Context(), auth.UserFromContext(r.Context()), in)
	if err != nil {
		s.writeServiceError(w, err, "create recipe")

		return
	}

	s.writeJSON(w, http.StatusCreated, newRecipeDetail(rec))
}

// handleGetRecipe godoc
//
//	@Summary		Get recipe
//	@Description	Returns one of the authenticated user's recipes
//	@Tags			recipe
//	@Security		TokenAuth
//	@Produce		json
//	@Param			id	path		int	true	"Recipe ID"
//	@Success		200	{object}	RecipeDetailResponse
//	@Failure		401	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/recipe/recipes/{id}/ [get]
func (s *server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	rec, err := s.recipes.GetRecipe(r.Context(), auth.UserFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, err, "get recipe")

		return
	}

	s.writeJSON(w, http.StatusOK, newRecipeDetail(rec))
}

// handleUpdateRecipe godoc
//
//	@Summary		Update recipe
//	@Description	PUT replaces the recipe and requires title, time_minutes and price. PATCH changes only the given fields.
//	@Description	A given tags or ingredients list replaces the current one; an empty list clears it.
//	@Tags			recipe
//	@Security		TokenAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Recipe ID"
//	@Param			body	body		RecipeRequest	true	"Recipe fields"
//	@Success		200		{object}	RecipeDetailResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/recipe/recipes/{id}/ [put]
//	@Router			/api/recipe/recipes/{id}/ [patch]
func (s *server) handleUpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var in recipe.Input
	if !s.decodeJSON(w, r, &in) {
		return
	}

	rec, err := s.recipes.UpdateRecipe(r.Context(), auth.UserFromContext(r.Context()), id, in,
		r.Method == http.MethodPatch)
	if err != nil {
		s.writeServiceError(w, err, "update recipe")

		return
	}

	s.writeJSON(w, http.StatusOK, newRecipeDetail(rec))
}

// handleDeleteRecipe godoc
//
//	@Summary		Delete recipe
//	@Description	Deletes one of the authenticated user's recipes
//	@Tags			recipe
//	@Security		TokenAuth
//	@Param			id	path	int	true	"Recipe ID"
//	@Success		204	"Recipe deleted"
//	@Failure		401	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/recipe/recipes/{id}/ [delete]
func (s *server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.recipes.DeleteRecipe(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		s.writeServiceError(w, err, "delete recipe")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Tags
// ============================================================================

// handleListTags godoc
//
//	@Summary		List tags
//	@Description	Returns the authenticated user's tags ordered by name descending
//	@Tags			recipe
//	@Security		TokenAuth
//	@Produce		json
//	@Param			assigned_only	query		int	false	"Only tags assigned to a recipe (0 or 1)"
//	@Success		200				{array}		TagResponse
//	@Failure		401				{object}	ErrorResponse
//	@Router			/api/recipe/tags/ [get]
func (s *server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.recipes.ListTags(r.Context(), auth.UserFromContext(r.Context()), queryBool(r, "assigned_only"))
	if err != nil {
		s.writeServiceError(w, err, "list tags")

		return
	}

	s.writeJSON(w, http.StatusOK, newTagResponses(tags))
}

// handleUpdateTag godoc
//
//	@Summary		Update tag
//	@Description	Renames one of the authenticated user's tags
//	@Tags			recipe
//	@Security		TokenAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int					true	"Tag ID"
//	@Param			body	body		AttributeRequest	true	"New name"
//	@Success		200		{object}	TagResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/recipe/tags/{id}/ [put]
//	@Router			/api/recipe/tags/{id}/ [patch]
func (s *server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var in recipe.AttributeInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	tag, err := s.recipes.UpdateTag(r.Context(), auth.UserFromContext(r.Context()), id, in,
		r.Method == http.MethodPatch)
	if err != nil {
		s.writeServiceError(w, err, "update tag")

		return
	}

	s.writeJSON(w, http.StatusOK, TagResponse{ID: tag.ID, Name: tag.Name})
}

// handleDeleteTag godoc
//
//	@Summary		Delete tag
//	@Description	Deletes one of the authenticated user's tags and removes it from recipes
//	@Tags			recipe
//	@Security		TokenAuth
//	@Param			id	path	int	true	"Tag ID"
//	@Success		204	"Tag deleted"
//	@Failure		401	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/recipe/tags/{id}/ [delete]
func (s *server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.recipes.DeleteTag(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		s.writeServiceError(w, err, "delete tag")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Ingredients
// ============================================================================

// handleListIngredients godoc
//
//	@Summary		List ingredients
//	@Description	Returns the authenticated user's ingredients ordered by name descending
//	@Tags			recipe
//	@Security		TokenAuth
//	@Produce		json
//	@Param			assigned_only	query		int	false	"Only ingredients assigned to a recipe (0 or 1)"
//	@Success		200				{array}		IngredientResponse
//	@Failure		401				{object}	ErrorResponse
//	@Router			/api/recipe/ingredients/ [get]
func (s *server) handleListIngredients(w http.ResponseWriter, r *http.Request) {
	ingredients, err := s.recipes.ListIngredients(r.Context(), auth.UserFromContext(r.Context()),
		queryBool(r, "assigned_only"))
	if err != nil {
		s.writeServiceError(w, err, "list ingredients")

		return
	}

	s.writeJSON(w, http.StatusOK, newIngredientResponses(ingredients))
}

// handleUpdateIngredient godoc
//
//	@Summary		Update ingredient
//	@Description	Renames one of the authenticated user's ingredients
//	@Tags			recipe
//	@Security		TokenAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int					true	"Ingredient ID"
//	@Param			body	body		AttributeRequest	true	"New name"
//	@Success		200		{object}	IngredientResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/recipe/ingredients/{id}/ [put]
//	@Router			/api/recipe/ingredients/{id}/ [patch]
func (s *server) handleUpdateIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var in recipe.AttributeInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	ingredient, err := s.recipes.UpdateIngredient(r.Context(), auth.UserFromContext(r.Context()), id, in,
		r.Method == http.MethodPatch)
	if err != nil {
		s.writeServiceError(w, err, "update ingredient")

		return
	}

	s.writeJSON(w, http.StatusOK, IngredientResponse{ID: ingredient.ID, Name: ingredient.Name})
}

// handleDeleteIngredient godoc
//
//	@Summary		Delete ingredient
//	@Description	Deletes one of the authenticated user's ingredients and removes it from recipes
//	@Tags			recipe
//	@Security		TokenAuth
//	@Param			id	path	int	true	"Ingredient ID"
//	@Success		204	"Ingredient deleted"
//	@Failure		401	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/recipe/ingredients/{id}/ [delete]
func (s *server) handleDeleteIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.recipes.DeleteIngredient(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		s.writeServiceError(w, err, "delete ingredient")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
