// Package recipe applies per-user business rules to recipes, tags and
// ingredients on top of the store.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/metrics"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned for objects that do not exist or belong to another user.
var ErrNotFound = errors.New("not found")

// Event describes a change to one of a user's objects.
type Event struct {
	Action     store.AuditAction
	EntityType store.AuditEntityType
	EntityID   int64
	UserID     int64         // owner of the changed object
	Recipe     *store.Recipe // set for created and updated recipes
}

// ChangeCallback is called after every successful mutation.
type ChangeCallback func(event Event)

// Service defines the interface for recipe operations.
type Service interface {
	Start(ctx context.Context) error
	Stop() error

	// Recipes.
	ListRecipes(ctx context.Context, user *store.User, filter Filter) ([]*store.Recipe, error)
	GetRecipe(ctx context.Context, user *store.User, id int64) (*store.Recipe, error)
	CreateRecipe(ctx context.Context, user *store.User, in Input) (*store.Recipe, error)
	UpdateRecipe(ctx context.Context, user *store.User, id int64, in Input, partial bool) (*store.Recipe, error)
	DeleteRecipe(ctx context.Context, user *store.User, id int64) error

	// Tags.
	ListTags(ctx context.Context, user *store.User, assignedOnly bool) ([]*store.Tag, error)
	UpdateTag(ctx context.Context, user *store.User, id int64, in AttributeInput, partial bool) (*store.Tag, error)
	DeleteTag(ctx context.Context, user *store.User, id int64) error

	// Ingredients.
	ListIngredients(ctx context.Context, user *store.User, assignedOnly bool) ([]*store.Ingredient, error)
	UpdateIngredient(
		ctx context.Context, user *store.User, id int64, in AttributeInput, partial bool,
	) (*store.Ingredient, error)
	DeleteIngredient(ctx context.Context, user *store.User, id int64) error

	// Admin.
	ForceDeleteRecipe(ctx context.Context, actor *store.User, id int64) error

	// Callbacks.
	SetChangeCallback(cb ChangeCallback)
}

// service implements Service.
type service struct {
	log            logrus.FieldLogger
	cfg            *config.Config
	store          store.Store
	metrics        *metrics.Metrics
	changeCallback ChangeCallback
	cancel         context.CancelFunc

	tags        attributeKind
	ingredients attributeKind
}

// Ensure service implements Service.
var _ Service = (*service)(nil)

// NewService creates a new recipe service.
func NewService(log logrus.FieldLogger, cfg *config.Config, st store.Store, m *metrics.Metrics) Service {
	return &service{
		log:         log.WithField("component", "recipe"),
		cfg:         cfg,
		store:       st,
		metrics:     m,
		tags:        tagKind(st),
		ingredients: ingredientKind(st),
	}
}

// Start initializes the recipe service.
func (s *service) Start(ctx context.Context) error {
	s.log.Info("Starting recipe service")

	ctx, s.cancel = context.WithCancel(ctx)

	// Start audit cleanup goroutine if retention is enabled.
	if s.cfg.Audit.RetentionDays > 0 {
		go s.cleanupAuditLog(ctx)
	}

	return nil
}

// Stop shuts down the recipe service.
func (s *service) Stop() error {
	s.log.Info("Stopping recipe service")

	if s.cancel != nil {
		s.cancel()
	}

	return nil
}

// cleanupAuditLog periodically removes audit entries past the retention window.
func (s *service) cleanupAuditLog(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"retention_days":   s.cfg.Audit.RetentionDays,
		"cleanup_interval": s.cfg.Audit.CleanupInterval,
	}).Info("Starting audit log cleanup goroutine")

	ticker := time.NewTicker(s.cfg.Audit.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping audit log cleanup goroutine")

			return
		case <-ticker.C:
			s.pruneAuditLog(ctx)
		}
	}
}

func (s *service) pruneAuditLog(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.Audit.RetentionDays)

	count, err := s.store.DeleteOldAuditEntries(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("Failed to cleanup audit log")

		return
	}

	if count > 0 {
		s.metrics.RecordAuditPruned(count)

		s.log.WithFields(logrus.Fields{
			"deleted_count":  count,
			"retention_days": s.cfg.Audit.RetentionDays,
		}).Info("Cleaned up audit log")
	}
}

// SetChangeCallback sets the callback for object changes.
func (s *service) SetChangeCallback(cb ChangeCallback) {
	s.changeCallback = cb
}

// notify calls the callback if set.
func (s *service) notify(event Event) {
	if s.changeCallback != nil {
		s.changeCallback(event)
	}
}

func (s *service) audit(
	ctx context.Context, actor *store.User, action store.AuditAction,
	entity store.AuditEntityType, id int64, details string,
) {
	entry := &store.AuditEntry{
		Action:     action,
		EntityType: entity,
		EntityID:   strconv.FormatInt(id, 10),
		Actor:      actor.Email,
		Details:    details,
	}

	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("Failed to record audit entry")
	}
}

// ============================================================================
// Recipes
// ============================================================================

// ListRecipes returns the user's recipes, newest first.
func (s *service) ListRecipes(ctx context.Context, user *store.User, filter Filter) ([]*store.Recipe, error) {
	recipes, err := s.store.ListRecipes(ctx, store.RecipeQueryOpts{
		UserID:        &user.ID,
		TagIDs:        filter.TagIDs,
		IngredientIDs: filter.IngredientIDs,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing recipes: %w", err)
	}

	return recipes, nil
}

// GetRecipe returns one of the user's recipes.
func (s *service) GetRecipe(ctx context.Context, user *store.User, id int64) (*store.Recipe, error) {
	recipe, err := s.store.GetRecipe(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting recipe: %w", err)
	}

	if recipe == nil || recipe.UserID != user.ID {
		return nil, ErrNotFound
	}

	return recipe, nil
}

// CreateRecipe creates a recipe owned by user.
func (s *service) CreateRecipe(ctx context.Context, user *store.User, in Input) (*store.Recipe, error) {
	recipe := &store.Recipe{UserID: user.ID}
	assoc := in.apply(recipe)

	if err := validateRecipe(recipe, in, in.missingFields()); err != nil {
		return nil, err
	}

	if err := s.store.CreateRecipe(ctx, recipe, assoc); err != nil {
		return nil, fmt.Errorf("creating recipe: %w", err)
	}

	s.audit(ctx, user, store.AuditActionRecipeCreated, store.AuditEntityRecipe, recipe.ID, recipe.Title)
	s.metrics.RecordRecipeCreated()

	s.log.WithFields(logrus.Fields{
		"recipe_id": recipe.ID,
		"user":      user.Email,
	}).Info("Created recipe")

	s.notify(Event{
		Action:     store.AuditActionRecipeCreated,
		EntityType: store.AuditEntityRecipe,
		EntityID:   recipe.ID,
		UserID:     recipe.UserID,
		Recipe:     recipe,
	})

	return recipe, nil
}

// UpdateRecipe changes one of the user's recipes. A full update requires
// every field that CreateRecipe requires.
func (s *service) UpdateRecipe(
	ctx context.Context, user *store.User, id int64, in Input, partial bool,
) (*store.Recipe, error) {
	recipe, err := s.GetRecipe(ctx, user, id)
	if err != nil {
		return nil, err
	}

	missing := in.missingFields()
	if partial {
		missing = nil
	}

	assoc := in.apply(recipe)

	if err := validateRecipe(recipe, in, missing); err != nil {
		return nil, err
	}

	if err := s.store.UpdateRecipe(ctx, recipe, assoc); err != nil {
		return nil, fmt.Errorf("updating recipe: %w", err)
	}

	s.audit(ctx, user, store.AuditActionRecipeUpdated, store.AuditEntityRecipe, recipe.ID, recipe.Title)
	s.metrics.RecordRecipeUpdated()

	s.log.WithFields(logrus.Fields{
		"recipe_id": recipe.ID,
		"partial":   partial,
	}).Debug("Updated recipe")

	s.notify(Event{
		Action:     store.AuditActionRecipeUpdated,
		EntityType: store.AuditEntityRecipe,
		EntityID:   recipe.ID,
		UserID:     recipe.UserID,
		Recipe:     recipe,
	})

	return recipe, nil
}

// DeleteRecipe deletes one of the user's recipes.
func (s *service) DeleteRecipe(ctx context.Context, user *store.User, id int64) error {
	recipe, err := s.GetRecipe(ctx, user, id)
	if err != nil {
		return err
	}

	return s.deleteRecipe(ctx, user, recipe)
}

// ForceDeleteRecipe deletes any user's recipe on behalf of a staff member.
func (s *service) ForceDeleteRecipe(ctx context.Context, actor *store.User, id int64) error {
	recipe, err := s.store.GetRecipe(ctx, id)
	if err != nil {
		return fmt.Errorf("getting recipe: %w", err)
	}

	if recipe == nil {
		return ErrNotFound
	}

	return s.deleteRecipe(ctx, actor, recipe)
}

func (s *service) deleteRecipe(ctx context.Context, actor *store.User, recipe *store.Recipe) error {
	if err := s.store.DeleteRecipe(ctx, recipe.ID); err != nil {
		return fmt.Errorf("deleting recipe: %w", err)
	}

	s.audit(ctx, actor, store.AuditActionRecipeDeleted, store.AuditEntityRecipe, recipe.ID, recipe.Title)
	s.metrics.RecordRecipeDeleted()

	s.log.WithFields(logrus.Fields{
		"recipe_id": recipe.ID,
		"actor":     actor.Email,
	}).Info("Deleted recipe")

	s.notify(Event{
		Action:     store.AuditActionRecipeDeleted,
		EntityType: store.AuditEntityRecipe,
		EntityID:   recipe.ID,
		UserID:     recipe.UserID,
	})

	return nil
}
