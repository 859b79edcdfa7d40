package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqlStore holds the query logic shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	log logrus.FieldLogger
	db  *sql.DB

	// numbered rewrites ? placeholders to $1, $2, ...
	numbered bool
	// unlimited is the LIMIT clause used when only an offset is requested.
	unlimited string
	// uniqueViolation reports whether err is a unique constraint failure.
	uniqueViolation func(err error) bool
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}

	var sb strings.Builder

	n := 0

	for _, c := range query {
		if c == '?' {
			n++

			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))

			continue
		}

		sb.WriteRune(c)
	}

	return sb.String()
}

func (s *sqlStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) wrapWrite(action string, err error) error {
	if s.uniqueViolation != nil && s.uniqueViolation(err) {
		return fmt.Errorf("%s: %w", action, ErrDuplicate)
	}

	return fmt.Errorf("%s: %w", action, err)
}

func (s *sqlStore) paginate(limit, offset int) string {
	var clause string

	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	} else if offset > 0 {
		clause += " " + s.unlimited
	}

	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}

	return clause
}

// runMigrations executes each statement in order.
func (s *sqlStore) runMigrations(ctx context.Context, migrations []string) error {
	s.log.Info("Running database migrations")

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE migrations.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}

			return fmt.Errorf("running migration: %w", err)
		}
	}

	return nil
}

// Stop closes the database connection.
func (s *sqlStore) Stop() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *sqlStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	return args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ============================================================================
// Users
// ============================================================================

const userColumns = `id, email, name, password_hash, is_active, is_staff, is_superuser,
	github_id, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	var user User

	var passwordHash, githubID sql.NullString

	if err := row.Scan(&user.ID, &user.Email, &user.Name, &passwordHash, &user.IsActive,
		&user.IsStaff, &user.IsSuperuser, &githubID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}

	user.PasswordHash = passwordHash.String
	user.GitHubID = githubID.String

	return &user, nil
}

// CreateUser creates a new user and sets its ID.
func (s *sqlStore) CreateUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	err := s.queryRow(ctx, s.db, `
		INSERT INTO users (email, name, password_hash, is_active, is_staff, is_superuser,
			github_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, user.Email, user.Name, nullString(user.PasswordHash), user.IsActive, user.IsStaff,
		user.IsSuperuser, nullString(user.GitHubID), user.CreatedAt, user.UpdatedAt).Scan(&user.ID)
	if err != nil {
		return s.wrapWrite("inserting user", err)
	}

	return nil
}

func (s *sqlStore) getUserBy(ctx context.Context, column string, value any) (*User, error) {
	user, err := scanUser(s.queryRow(ctx, s.db,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value))
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by ID.
func (s *sqlStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByEmail retrieves a user by their normalized email.
func (s *sqlStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserBy(ctx, "email", email)
}

// GetUserByGitHubID retrieves a user by their GitHub ID.
func (s *sqlStore) GetUserByGitHubID(ctx context.Context, githubID string) (*User, error) {
	return s.getUserBy(ctx, "github_id", githubID)
}

// ListUsers returns users ordered by ID, along with the total matching count.
func (s *sqlStore) ListUsers(ctx context.Context, opts UserQueryOpts) ([]*User, int, error) {
	where := ` WHERE 1=1`

	var args []any

	if opts.Search != "" {
		where += ` AND (LOWER(email) LIKE ? OR LOWER(name) LIKE ?)`
		pattern := "%" + strings.ToLower(opts.Search) + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	rows, err := s.query(ctx, s.db,
		`SELECT `+userColumns+` FROM users`+where+` ORDER BY id`+s.paginate(opts.Limit, opts.Offset),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying users: %w", err)
	}

	defer rows.Close()

	users := make([]*User, 0)

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user: %w", err)
		}

		users = append(users, user)
	}

	return users, total, rows.Err()
}

// UpdateUser updates an existing user.
func (s *sqlStore) UpdateUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()

	_, err := s.exec(ctx, s.db, `
		UPDATE users
		SET email = ?, name = ?, password_hash = ?, is_active = ?, is_staff = ?,
			is_superuser = ?, github_id = ?, updated_at = ?
		WHERE id = ?
	`, user.Email, user.Name, nullString(user.PasswordHash), user.IsActive, user.IsStaff,
		user.IsSuperuser, nullString(user.GitHubID), user.UpdatedAt, user.ID)
	if err != nil {
		return s.wrapWrite("updating user", err)
	}

	return nil
}

// DeleteUser deletes a user and everything they own.
func (s *sqlStore) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	return nil
}

// ============================================================================
// Sessions
// ============================================================================

// CreateSession creates a new session.
func (s *sqlStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.TokenHash, session.ExpiresAt.UTC(), session.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSessionByToken retrieves a session by token hash.
func (s *sqlStore) GetSessionByToken(ctx context.Context, tokenHash string) (*Session, error) {
	var session Session

	err := s.queryRow(ctx, s.db, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM sessions WHERE token_hash = ?
	`, tokenHash).Scan(&session.ID, &session.UserID, &session.TokenHash,
		&session.ExpiresAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return &session, nil
}

// DeleteSession deletes a session.
func (s *sqlStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// DeleteExpiredSessions deletes all expired sessions.
func (s *sqlStore) DeleteExpiredSessions(ctx context.Context) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	return nil
}

// DeleteUserSessions deletes all sessions for a user.
func (s *sqlStore) DeleteUserSessions(ctx context.Context, userID int64) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}

	return nil
}

// ============================================================================
// OAuth States
// ============================================================================

// CreateOAuthState stores a new OAuth state token.
func (s *sqlStore) CreateOAuthState(ctx context.Context, state *OAuthState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO oauth_states (state, expires_at, created_at) VALUES (?, ?, ?)
	`, state.State, state.ExpiresAt.UTC(), state.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting oauth state: %w", err)
	}

	return nil
}

// GetOAuthState retrieves an OAuth state token.
func (s *sqlStore) GetOAuthState(ctx context.Context, state string) (*OAuthState, error) {
	var st OAuthState

	err := s.queryRow(ctx, s.db, `
		SELECT state, expires_at, created_at FROM oauth_states WHERE state = ?
	`, state).Scan(&st.State, &st.ExpiresAt, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying oauth state: %w", err)
	}

	return &st, nil
}

// DeleteOAuthState deletes an OAuth state token.
func (s *sqlStore) DeleteOAuthState(ctx context.Context, state string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return fmt.Errorf("deleting oauth state: %w", err)
	}

	return nil
}

// DeleteExpiredOAuthStates deletes all expired OAuth state tokens.
func (s *sqlStore) DeleteExpiredOAuthStates(ctx context.Context) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM oauth_states WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deleting expired oauth states: %w", err)
	}

	return nil
}

// ============================================================================
// Tags and Ingredients
// ============================================================================

// attributeTable describes a per-user name table linked to recipes.
type attributeTable struct {
	name   string // table name
	link   string // recipe link table
	column string // foreign key column in the link table
}

var (
	tagTable        = attributeTable{name: "tags", link: "recipe_tags", column: "tag_id"}
	ingredientTable = attributeTable{name: "ingredients", link: "recipe_ingredients", column: "ingredient_id"}
)

// Tag and Ingredient share a layout, so rows are scanned as *Tag and
// converted for ingredients.

func (s *sqlStore) getAttribute(ctx context.Context, table attributeTable, id int64) (*Tag, error) {
	var t Tag

	err := s.queryRow(ctx, s.db,
		`SELECT id, user_id, name, created_at FROM `+table.name+` WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table.name, err)
	}

	return &t, nil
}

func (s *sqlStore) listAttributes(
	ctx context.Context, table attributeTable, opts AttributeQueryOpts,
) ([]*Tag, error) {
	query := `SELECT id, user_id, name, created_at FROM ` + table.name + ` WHERE 1=1`

	var args []any

	if opts.UserID != nil {
		query += " AND user_id = ?"

		args = append(args, *opts.UserID)
	}

	if opts.AssignedOnly {
		query += fmt.Sprintf(" AND id IN (SELECT %s FROM %s)", table.column, table.link)
	}

	query += " ORDER BY name DESC, id DESC"

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table.name, err)
	}

	defer rows.Close()

	items := make([]*Tag, 0)

	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table.name, err)
		}

		items = append(items, &t)
	}

	return items, rows.Err()
}

func (s *sqlStore) renameAttribute(ctx context.Context, table attributeTable, id int64, name string) error {
	_, err := s.exec(ctx, s.db, `UPDATE `+table.name+` SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return s.wrapWrite("updating "+table.name, err)
	}

	return nil
}

func (s *sqlStore) deleteAttribute(ctx context.Context, table attributeTable, id int64) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM `+table.name+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting %s: %w", table.name, err)
	}

	return nil
}

// getOrCreateAttribute returns the ID of the user's row with the given name,
// inserting it first if needed.
func (s *sqlStore) getOrCreateAttribute(
	ctx context.Context, q querier, table attributeTable, userID int64, name string,
) (int64, error) {
	_, err := s.exec(ctx, q, `
		INSERT INTO `+table.name+` (user_id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, name) DO NOTHING
	`, userID, name, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("inserting %s: %w", table.name, err)
	}

	var id int64

	err = s.queryRow(ctx, q, `SELECT id FROM `+table.name+` WHERE user_id = ? AND name = ?`,
		userID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("querying %s: %w", table.name, err)
	}

	return id, nil
}

// replaceLinks sets the recipe's links in table to exactly the given names.
func (s *sqlStore) replaceLinks(
	ctx context.Context, q querier, table attributeTable, recipeID, userID int64, names []string,
) error {
	if _, err := s.exec(ctx, q, `DELETE FROM `+table.link+` WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("clearing %s: %w", table.link, err)
	}

	seen := make(map[string]bool, len(names))

	for _, name := range names {
		if seen[name] {
			continue
		}

		seen[name] = true

		id, err := s.getOrCreateAttribute(ctx, q, table, userID, name)
		if err != nil {
			return err
		}

		_, err = s.exec(ctx, q,
			`INSERT INTO `+table.link+` (recipe_id, `+table.column+`) VALUES (?, ?)`, recipeID, id)
		if err != nil {
			return fmt.Errorf("linking %s: %w", table.name, err)
		}
	}

	return nil
}

// loadLinks returns the linked rows of table for each recipe ID.
func (s *sqlStore) loadLinks(
	ctx context.Context, table attributeTable, recipeIDs []int64,
) (map[int64][]*Tag, error) {
	query := fmt.Sprintf(`
		SELECT l.recipe_id, t.id, t.user_id, t.name, t.created_at
		FROM %s t JOIN %s l ON l.%s = t.id
		WHERE l.recipe_id IN (%s)
		ORDER BY t.id
	`, table.name, table.link, table.column, placeholders(len(recipeIDs)))

	rows, err := s.query(ctx, s.db, query, int64Args(recipeIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table.link, err)
	}

	defer rows.Close()

	links := make(map[int64][]*Tag, len(recipeIDs))

	for rows.Next() {
		var (
			recipeID int64
			t        Tag
		)

		if err := rows.Scan(&recipeID, &t.ID, &t.UserID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table.link, err)
		}

		links[recipeID] = append(links[recipeID], &t)
	}

	return links, rows.Err()
}

// GetTag retrieves a tag by ID.
func (s *sqlStore) GetTag(ctx context.Context, id int64) (*Tag, error) {
	return s.getAttribute(ctx, tagTable, id)
}

// ListTags returns tags ordered by name descending.
func (s *sqlStore) ListTags(ctx context.Context, opts AttributeQueryOpts) ([]*Tag, error) {
	return s.listAttributes(ctx, tagTable, opts)
}

// UpdateTag renames a tag.
func (s *sqlStore) UpdateTag(ctx context.Context, tag *Tag) error {
	return s.renameAttribute(ctx, tagTable, tag.ID, tag.Name)
}

// DeleteTag deletes a tag and unlinks it from recipes.
func (s *sqlStore) DeleteTag(ctx context.Context, id int64) error {
	return s.deleteAttribute(ctx, tagTable, id)
}

// GetIngredient retrieves an ingredient by ID.
func (s *sqlStore) GetIngredient(ctx context.Context, id int64) (*Ingredient, error) {
	t, err := s.getAttribute(ctx, ingredientTable, id)
	if err != nil || t == nil {
		return nil, err
	}

	return (*Ingredient)(t), nil
}

// ListIngredients returns ingredients ordered by name descending.
func (s *sqlStore) ListIngredients(ctx context.Context, opts AttributeQueryOpts) ([]*Ingredient, error) {
	items, err := s.listAttributes(ctx, ingredientTable, opts)
	if err != nil {
		return nil, err
	}

	return toIngredients(items), nil
}

// UpdateIngredient renames an ingredient.
func (s *sqlStore) UpdateIngredient(ctx context.Context, ingredient *Ingredient) error {
	return s.renameAttribute(ctx, ingredientTable, ingredient.ID, ingredient.Name)
}

// DeleteIngredient deletes an ingredient and unlinks it from recipes.
func (s *sqlStore) DeleteIngredient(ctx context.Context, id int64) error {
	return s.deleteAttribute(ctx, ingredientTable, id)
}

func toIngredients(items []*Tag) []*Ingredient {
	out := make([]*Ingredient, 0, len(items))
	for _, t := range items {
		out = append(out, (*Ingredient)(t))
	}

	return out
}

// ============================================================================
// Recipes
// ============================================================================

const recipeColumns = `r.id, r.user_id, r.title, r.description, r.time_minutes, r.price, r.link,
	r.created_at, r.updated_at`

func scanRecipe(row rowScanner) (*Recipe, error) {
	var recipe Recipe

	var description, link sql.NullString

	if err := row.Scan(&recipe.ID, &recipe.UserID, &recipe.Title, &description, &recipe.TimeMinutes,
		&recipe.Price, &link, &recipe.CreatedAt, &recipe.UpdatedAt); err != nil {
		return nil, err
	}

	recipe.Description = description.String
	recipe.Link = link.String

	return &recipe, nil
}

// CreateRecipe inserts a recipe with its tags and ingredients in one transaction.
func (s *sqlStore) CreateRecipe(ctx context.Context, recipe *Recipe, assoc RecipeAssociations) error {
	now := time.Now().UTC()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	err = s.queryRow(ctx, tx, `
		INSERT INTO recipes (user_id, title, description, time_minutes, price, link, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, recipe.UserID, recipe.Title, recipe.Description, recipe.TimeMinutes, recipe.Price,
		recipe.Link, recipe.CreatedAt, recipe.UpdatedAt).Scan(&recipe.ID)
	if err != nil {
		return fmt.Errorf("inserting recipe: %w", err)
	}

	if err := s.applyAssociations(ctx, tx, recipe, assoc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing recipe: %w", err)
	}

	return s.attachLinks(ctx, []*Recipe{recipe})
}

func (s *sqlStore) applyAssociations(ctx context.Context, q querier, recipe *Recipe, assoc RecipeAssociations) error {
	if assoc.Tags != nil {
		if err := s.replaceLinks(ctx, q, tagTable, recipe.ID, recipe.UserID, assoc.Tags); err != nil {
			return err
		}
	}

	if assoc.Ingredients != nil {
		if err := s.replaceLinks(ctx, q, ingredientTable, recipe.ID, recipe.UserID, assoc.Ingredients); err != nil {
			return err
		}
	}

	return nil
}

// attachLinks loads tags and ingredients for the given recipes in two queries.
func (s *sqlStore) attachLinks(ctx context.Context, recipes []*Recipe) error {
	if len(recipes) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(recipes))
	for _, r := range recipes {
		ids = append(ids, r.ID)
	}

	tags, err := s.loadLinks(ctx, tagTable, ids)
	if err != nil {
		return err
	}

	ingredients, err := s.loadLinks(ctx, ingredientTable, ids)
	if err != nil {
		return err
	}

	for _, r := range recipes {
		r.Tags = tags[r.ID]
		if r.Tags == nil {
			r.Tags = []*Tag{}
		}

		r.Ingredients = toIngredients(ingredients[r.ID])
	}

	return nil
}

// GetRecipe retrieves a recipe with its tags and ingredients.
func (s *sqlStore) GetRecipe(ctx context.Context, id int64) (*Recipe, error) {
	recipe, err := scanRecipe(s.queryRow(ctx, s.db,
		`SELECT `+recipeColumns+` FROM recipes r WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying recipe: %w", err)
	}

	if err := s.attachLinks(ctx, []*Recipe{recipe}); err != nil {
		return nil, err
	}

	return recipe, nil
}

// ListRecipes returns recipes ordered by ID descending.
func (s *sqlStore) ListRecipes(ctx context.Context, opts RecipeQueryOpts) ([]*Recipe, error) {
	query := `SELECT ` + recipeColumns + ` FROM recipes r WHERE 1=1`

	var args []any

	if opts.UserID != nil {
		query += " AND r.user_id = ?"

		args = append(args, *opts.UserID)
	}

	if len(opts.TagIDs) > 0 {
		query += fmt.Sprintf(" AND r.id IN (SELECT recipe_id FROM recipe_tags WHERE tag_id IN (%s))",
			placeholders(len(opts.TagIDs)))

		args = append(args, int64Args(opts.TagIDs)...)
	}

	if len(opts.IngredientIDs) > 0 {
		query += fmt.Sprintf(
			" AND r.id IN (SELECT recipe_id FROM recipe_ingredients WHERE ingredient_id IN (%s))",
			placeholders(len(opts.IngredientIDs)))

		args = append(args, int64Args(opts.IngredientIDs)...)
	}

	query += " ORDER BY r.id DESC" + s.paginate(opts.Limit, opts.Offset)

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recipes: %w", err)
	}

	recipes := make([]*Recipe, 0)

	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			rows.Close()

			return nil, fmt.Errorf("scanning recipe: %w", err)
		}

		recipes = append(recipes, recipe)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("iterating recipes: %w", err)
	}

	rows.Close()

	if err := s.attachLinks(ctx, recipes); err != nil {
		return nil, err
	}

	return recipes, nil
}

// UpdateRecipe updates a recipe's fields and, when given, its links, in one
// transaction. The owner is never changed.
func (s *sqlStore) UpdateRecipe(ctx context.Context, recipe *Recipe, assoc RecipeAssociations) error {
	recipe.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = s.exec(ctx, tx, `
		UPDATE recipes
		SET title = ?, description = ?, time_minutes = ?, price = ?, link = ?, updated_at = ?
		WHERE id = ?
	`, recipe.Title, recipe.Description, recipe.TimeMinutes, recipe.Price, recipe.Link,
		recipe.UpdatedAt, recipe.ID)
	if err != nil {
		return fmt.Errorf("updating recipe: %w", err)
	}

	if err := s.applyAssociations(ctx, tx, recipe, assoc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing recipe: %w", err)
	}

	return s.attachLinks(ctx, []*Recipe{recipe})
}

// DeleteRecipe deletes a recipe and its links.
func (s *sqlStore) DeleteRecipe(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM recipes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting recipe: %w", err)
	}

	return nil
}

// ============================================================================
// Stats
// ============================================================================

// Stats returns row counts of the main tables.
func (s *sqlStore) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats

	counts := []struct {
		table string
		dest  *int
	}{
		{"users", &stats.Users},
		{"recipes", &stats.Recipes},
		{"tags", &stats.Tags},
		{"ingredients", &stats.Ingredients},
	}

	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}

	return &stats, nil
}

// ============================================================================
// Audit
// ============================================================================

// CreateAuditEntry creates a new audit log entry.
func (s *sqlStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO audit_log (id, action, entity_type, entity_id, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Actor, entry.Details, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries lists audit entries newest first, along with the total matching count.
func (s *sqlStore) ListAuditEntries(ctx context.Context, opts AuditQueryOpts) ([]*AuditEntry, int, error) {
	where := ` WHERE 1=1`

	var args []any

	if opts.EntityType != nil {
		where += " AND entity_type = ?"

		args = append(args, string(*opts.EntityType))
	}

	if opts.EntityID != nil {
		where += " AND entity_id = ?"

		args = append(args, *opts.EntityID)
	}

	if opts.Action != nil {
		where += " AND action = ?"

		args = append(args, string(*opts.Action))
	}

	if opts.Actor != nil {
		where += " AND actor = ?"

		args = append(args, *opts.Actor)
	}

	if opts.Since != nil {
		where += " AND created_at >= ?"

		args = append(args, opts.Since.UTC())
	}

	if opts.Until != nil {
		where += " AND created_at <= ?"

		args = append(args, opts.Until.UTC())
	}

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, action, entity_type, entity_id, actor, details, created_at FROM audit_log` +
		where + ` ORDER BY created_at DESC` + s.paginate(opts.Limit, opts.Offset)

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying audit entries: %w", err)
	}

	defer rows.Close()

	entries := make([]*AuditEntry, 0)

	for rows.Next() {
		var entry AuditEntry

		var actor, details sql.NullString

		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID,
			&actor, &details, &entry.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning audit_entry: %w", err)
		}

		entry.Actor = actor.String
		entry.Details = details.String
		entries = append(entries, &entry)
	}

	return entries, total, rows.Err()
}

// DeleteOldAuditEntries deletes audit entries created before olderThan.
func (s *sqlStore) DeleteOldAuditEntries(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.exec(ctx, s.db, `DELETE FROM audit_log WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return count, nil
}
