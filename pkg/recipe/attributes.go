package recipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
)

// attributeKind binds the shared tag/ingredient rules to one table.
// Ingredients are handled as *store.Tag, which has the same layout.
type attributeKind struct {
	name    string
	entity  store.AuditEntityType
	updated store.AuditAction
	deleted store.AuditAction

	list   func(ctx context.Context, opts store.AttributeQueryOpts) ([]*store.Tag, error)
	get    func(ctx context.Context, id int64) (*store.Tag, error)
	update func(ctx context.Context, t *store.Tag) error
	remove func(ctx context.Context, id int64) error
}

func tagKind(st store.Store) attributeKind {
	return attributeKind{
		name:    "tag",
		entity:  store.AuditEntityTag,
		updated: store.AuditActionTagUpdated,
		deleted: store.AuditActionTagDeleted,
		list:    st.ListTags,
		get:     st.GetTag,
		update:  st.UpdateTag,
		remove:  st.DeleteTag,
	}
}

func ingredientKind(st store.Store) attributeKind {
	return attributeKind{
		name:    "ingredient",
		entity:  store.AuditEntityIngredient,
		updated: store.AuditActionIngredientUpdated,
		deleted: store.AuditActionIngredientDeleted,
		list: func(ctx context.Context, opts store.AttributeQueryOpts) ([]*store.Tag, error) {
			items, err := st.ListIngredients(ctx, opts)
			if err != nil {
				return nil, err
			}

			out := make([]*store.Tag, 0, len(items))
			for _, i := range items {
				out = append(out, (*store.Tag)(i))
			}

			return out, nil
		},
		get: func(ctx context.Context, id int64) (*store.Tag, error) {
			i, err := st.GetIngredient(ctx, id)

			return (*store.Tag)(i), err
		},
		update: func(ctx context.Context, t *store.Tag) error {
			return st.UpdateIngredient(ctx, (*store.Ingredient)(t))
		},
		remove: st.DeleteIngredient,
	}
}

func (s *service) listAttributes(
	ctx context.Context, kind attributeKind, user *store.User, assignedOnly bool,
) ([]*store.Tag, error) {
	items, err := kind.list(ctx, store.AttributeQueryOpts{UserID: &user.ID, AssignedOnly: assignedOnly})
	if err != nil {
		return nil, fmt.Errorf("listing %ss: %w", kind.name, err)
	}

	return items, nil
}

func (s *service) getAttribute(ctx context.Context, kind attributeKind, user *store.User, id int64) (*store.Tag, error) {
	item, err := kind.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", kind.name, err)
	}

	if item == nil || item.UserID != user.ID {
		return nil, ErrNotFound
	}

	return item, nil
}

func (s *service) updateAttribute(
	ctx context.Context, kind attributeKind, user *store.User, id int64, in AttributeInput, partial bool,
) (*store.Tag, error) {
	item, err := s.getAttribute(ctx, kind, user, id)
	if err != nil {
		return nil, err
	}

	if in.Name == nil {
		if partial {
			return item, nil
		}

		verr := validation.NewError()
		verr.Add("name", validation.MsgRequired)

		return nil, verr
	}

	name := strings.TrimSpace(*in.Name)

	if err := validation.Struct(attributeFields{Name: name}); err != nil {
		return nil, err
	}

	previous := item.Name
	item.Name = name

	if err := kind.update(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			verr := validation.NewError()
			verr.Add("name", kind.name+" with this name already exists.")

			return nil, verr
		}

		return nil, fmt.Errorf("updating %s: %w", kind.name, err)
	}

	s.audit(ctx, user, kind.updated, kind.entity, item.ID, previous+" -> "+item.Name)
	s.metrics.RecordAttributeChange(kind.name, "updated")

	s.notify(Event{
		Action:     kind.updated,
		EntityType: kind.entity,
		EntityID:   item.ID,
		UserID:     item.UserID,
	})

	return item, nil
}

func (s *service) deleteAttribute(ctx context.Context, kind attributeKind, user *store.User, id int64) error {
	item, err := s.getAttribute(ctx, kind, user, id)
	if err != nil {
		return err
	}

	if err := kind.remove(ctx, item.ID); err != nil {
		return fmt.Errorf("deleting %s: %w", kind.name, err)
	}

	s.audit(ctx, user, kind.deleted, kind.entity, item.ID, item.Name)
	s.metrics.RecordAttributeChange(kind.name, "deleted")

	s.log.WithField(kind.name, item.Name).Debug("Deleted " + kind.name)

	s.notify(Event{
		Action:     kind.deleted,
		EntityType: kind.entity,
		EntityID:   item.ID,
		UserID:     item.UserID,
	})

	return nil
}

// ListTags returns the user's tags ordered by name descending.
func (s *service) ListTags(ctx context.Context, user *store.User, assignedOnly bool) ([]*store.Tag, error) {
	return s.listAttributes(ctx, s.tags, user, assignedOnly)
}

// UpdateTag renames one of the user's tags.
func (s *service) UpdateTag(
	ctx context.Context, user *store.User, id int64, in AttributeInput, partial bool,
) (*store.Tag, error) {
	return s.updateAttribute(ctx, s.tags, user, id, in, partial)
}

// DeleteTag deletes one of the user's tags and unlinks it from recipes.
func (s *service) DeleteTag(ctx context.Context, user *store.User, id int64) error {
	return s.deleteAttribute(ctx, s.tags, user, id)
}

// ListIngredients returns the user's ingredients ordered by name descending.
func (s *service) ListIngredients(
	ctx context.Context, user *store.User, assignedOnly bool,
) ([]*store.Ingredient, error) {
	items, err := s.listAttributes(ctx, s.ingredients, user, assignedOnly)
	if err != nil {
		return nil, err
	}

	out := make([]*store.Ingredient, 0, len(items))
	for _, t := range items {
		out = append(out, (*store.Ingredient)(t))
	}

	return out, nil
}

// UpdateIngredient renames one of the user's ingredients.
func (s *service) UpdateIngredient(
	ctx context.Context, user *store.User, id int64, in AttributeInput, partial bool,
) (*store.Ingredient, error) {
	item, err := s.updateAttribute(ctx, s.ingredients, user, id, in, partial)
	if err != nil {
		return nil, err
	}

	return (*store.Ingredient)(item), nil
}

// DeleteIngredient deletes one of the user's ingredients and unlinks it from recipes.
func (s *service) DeleteIngredient(ctx context.Context, user *store.User, id int64) error {
	return s.deleteAttribute(ctx, s.ingredients, user, id)
}
