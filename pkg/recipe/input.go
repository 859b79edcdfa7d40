package recipe

import (
	"errors"
	"strings"

	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
)

// NameRef references a tag or ingredient by name inside a recipe payload.
type NameRef struct {
	Name string `json:"name" validate:"required,max=255"`
}

// Input is the payload for creating or updating a recipe. Nil fields are
// absent from the request. A present, empty Tags or Ingredients list clears
// the recipe's links.
type Input struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	TimeMinutes *int         `json:"time_minutes"`
	Price       *store.Price `json:"price"`
	Link        *string      `json:"link"`
	Tags        *[]NameRef   `json:"tags"`
	Ingredients *[]NameRef   `json:"ingredients"`
}

// AttributeInput is the payload for renaming a tag or ingredient.
type AttributeInput struct {
	Name *string `json:"name"`
}

// Filter narrows a recipe listing. Tag and ingredient filters match any.
type Filter struct {
	TagIDs        []int64
	IngredientIDs []int64
	Limit         int
	Offset        int
}

// recipeFields holds a fully merged recipe for validation.
type recipeFields struct {
	Title       string    `json:"title" validate:"required,max=255"`
	Description string    `json:"description"`
	TimeMinutes int       `json:"time_minutes" validate:"gte=0"`
	Link        string    `json:"link" validate:"max=255"`
	Tags        []NameRef `json:"tags" validate:"dive"`
	Ingredients []NameRef `json:"ingredients" validate:"dive"`
}

type attributeFields struct {
	Name string `json:"name" validate:"required,max=255"`
}

// missingFields reports the required recipe fields absent from in.
func (in Input) missingFields() *validation.Error {
	verr := validation.NewError()

	if in.Title == nil {
		verr.Add("title", validation.MsgRequired)
	}

	if in.TimeMinutes == nil {
		verr.Add("time_minutes", validation.MsgRequired)
	}

	if in.Price == nil {
		verr.Add("price", validation.MsgRequired)
	}

	return verr
}

// apply merges the present fields of in onto recipe and returns the link
// changes to persist.
func (in Input) apply(recipe *store.Recipe) store.RecipeAssociations {
	if in.Title != nil {
		recipe.Title = strings.TrimSpace(*in.Title)
	}

	if in.Description != nil {
		recipe.Description = *in.Description
	}

	if in.TimeMinutes != nil {
		recipe.TimeMinutes = *in.TimeMinutes
	}

	if in.Price != nil {
		recipe.Price = *in.Price
	}

	if in.Link != nil {
		recipe.Link = strings.TrimSpace(*in.Link)
	}

	var assoc store.RecipeAssociations

	if in.Tags != nil {
		assoc.Tags = refNames(*in.Tags)
	}

	if in.Ingredients != nil {
		assoc.Ingredients = refNames(*in.Ingredients)
	}

	return assoc
}

func refNames(refs []NameRef) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, strings.TrimSpace(ref.Name))
	}

	return names
}

func trimRefs(refs *[]NameRef) []NameRef {
	if refs == nil {
		return nil
	}

	out := make([]NameRef, 0, len(*refs))
	for _, ref := range *refs {
		out = append(out, NameRef{Name: strings.TrimSpace(ref.Name)})
	}

	return out
}

// validateRecipe checks the merged recipe. Messages for fields already
// reported in missing are not repeated.
func validateRecipe(recipe *store.Recipe, in Input, missing *validation.Error) error {
	verr := validation.NewError()
	verr.Merge(missing)

	fields := recipeFields{
		Title:       recipe.Title,
		Description: recipe.Description,
		TimeMinutes: recipe.TimeMinutes,
		Link:        recipe.Link,
		Tags:        trimRefs(in.Tags),
		Ingredients: trimRefs(in.Ingredients),
	}

	if err := validation.Struct(fields); err != nil {
		var fieldErr *validation.Error
		if !errors.As(err, &fieldErr) {
			return err
		}

		for field, msgs := range fieldErr.Fields {
			if _, ok := verr.Fields[field]; !ok {
				verr.Fields[field] = msgs
			}
		}
	}

	if in.Price != nil && !in.Price.Valid() {
		if *in.Price < 0 {
			verr.Add("price", "Ensure this value is greater than or equal to 0.")
		} else {
			verr.Add("price", "Ensure that there are no more than 5 digits in total.")
		}
	}

	return verr.Err()
}
