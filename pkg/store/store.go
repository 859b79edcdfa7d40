package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when an insert or update violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate entry")

// Store defines the interface for database operations.
type Store interface {
	// Lifecycle.
	Start(ctx context.Context) error
	Stop() error
	Ping(ctx context.Context) error

	// Users.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByGitHubID(ctx context.Context, githubID string) (*User, error)
	ListUsers(ctx context.Context, opts UserQueryOpts) ([]*User, int, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id int64) error

	// Sessions.
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error
	DeleteUserSessions(ctx context.Context, userID int64) error

	// OAuth states.
	CreateOAuthState(ctx context.Context, state *OAuthState) error
	GetOAuthState(ctx context.Context, state string) (*OAuthState, error)
	DeleteOAuthState(ctx context.Context, state string) error
	DeleteExpiredOAuthStates(ctx context.Context) error

	// Recipes.
	CreateRecipe(ctx context.Context, recipe *Recipe, assoc RecipeAssociations) error
	GetRecipe(ctx context.Context, id int64) (*Recipe, error)
	ListRecipes(ctx context.Context, opts RecipeQueryOpts) ([]*Recipe, error)
	UpdateRecipe(ctx context.Context, recipe *Recipe, assoc RecipeAssociations) error
	DeleteRecipe(ctx context.Context, id int64) error

	// Tags.
	GetTag(ctx context.Context, id int64) (*Tag, error)
	ListTags(ctx context.Context, opts AttributeQueryOpts) ([]*Tag, error)
	UpdateTag(ctx context.Context, tag *Tag) error
	DeleteTag(ctx context.Context, id int64) error

	// Ingredients.
	GetIngredient(ctx context.Context, id int64) (*Ingredient, error)
	ListIngredients(ctx context.Context, opts AttributeQueryOpts) ([]*Ingredient, error)
	UpdateIngredient(ctx context.Context, ingredient *Ingredient) error
	DeleteIngredient(ctx context.Context, id int64) error

	// Stats.
	Stats(ctx context.Context) (*Stats, error)

	// Audit.
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, opts AuditQueryOpts) ([]*AuditEntry, int, error)
	DeleteOldAuditEntries(ctx context.Context, olderThan time.Time) (int64, error)

	// Migrations.
	Migrate(ctx context.Context) error
}

// User represents a user account. Users are identified by email.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	GitHubID     string    `json:"github_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// String returns the user's email.
func (u *User) String() string {
	return u.Email
}

// UserQueryOpts contains options for listing users.
type UserQueryOpts struct {
	Search string // substring match on email or name
	Limit  int
	Offset int
}

// Session represents an active API token.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthState is a single-use CSRF token for the OAuth sign-in flow.
type OAuthState struct {
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a user-owned label that can be attached to recipes.
type Tag struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// String returns the tag name.
func (t *Tag) String() string {
	return t.Name
}

// Ingredient is a user-owned ingredient that can be attached to recipes.
type Ingredient struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// String returns the ingredient name.
func (i *Ingredient) String() string {
	return i.Name
}

// Recipe is a user-owned recipe with its tags and ingredients.
type Recipe struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	TimeMinutes int           `json:"time_minutes"`
	Price       Price         `json:"price"`
	Link        string        `json:"link"`
	Tags        []*Tag        `json:"tags"`
	Ingredients []*Ingredient `json:"ingredients"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// String returns the recipe title.
func (r *Recipe) String() string {
	return r.Title
}

// RecipeAssociations names the tags and ingredients a recipe should link to.
// A nil slice leaves the existing links unchanged; an empty, non-nil slice
// removes them all. Names that do not exist yet for the recipe owner are created.
type RecipeAssociations struct {
	Tags        []string
	Ingredients []string
}

// RecipeQueryOpts contains options for listing recipes.
type RecipeQueryOpts struct {
	UserID        *int64
	TagIDs        []int64 // match any
	IngredientIDs []int64 // match any
	Limit         int
	Offset        int
}

// AttributeQueryOpts contains options for listing tags or ingredients.
type AttributeQueryOpts struct {
	UserID       *int64
	AssignedOnly bool
}

// Stats holds row counts for the admin index.
type Stats struct {
	Users       int `json:"users"`
	Recipes     int `json:"recipes"`
	Tags        int `json:"tags"`
	Ingredients int `json:"ingredients"`
}

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	AuditActionRecipeCreated     AuditAction = "recipe_created"
	AuditActionRecipeUpdated     AuditAction = "recipe_updated"
	AuditActionRecipeDeleted     AuditAction = "recipe_deleted"
	AuditActionTagUpdated        AuditAction = "tag_updated"
	AuditActionTagDeleted        AuditAction = "tag_deleted"
	AuditActionIngredientUpdated AuditAction = "ingredient_updated"
	AuditActionIngredientDeleted AuditAction = "ingredient_deleted"
	AuditActionUserCreated       AuditAction = "user_created"
	AuditActionUserUpdated       AuditAction = "user_updated"
	AuditActionUserDeleted       AuditAction = "user_deleted"
	AuditActionUserLogin         AuditAction = "user_login"
	AuditActionUserLogout        AuditAction = "user_logout"
)

// AuditEntityType represents the type of entity being audited.
type AuditEntityType string

const (
	AuditEntityRecipe     AuditEntityType = "recipe"
	AuditEntityTag        AuditEntityType = "tag"
	AuditEntityIngredient AuditEntityType = "ingredient"
	AuditEntityUser       AuditEntityType = "user"
	AuditEntitySession    AuditEntityType = "session"
)

// AuditEntry represents an audit log entry.
type AuditEntry struct {
	ID         string          `json:"id"`
	Action     AuditAction     `json:"action"`
	EntityType AuditEntityType `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	Details    string          `json:"details"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditQueryOpts contains options for querying audit entries.
type AuditQueryOpts struct {
	EntityType *AuditEntityType
	EntityID   *string
	Action     *AuditAction
	Actor      *string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
