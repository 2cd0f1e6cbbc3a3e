package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sachigoyal/echo-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ AppRepository          = (*PostgresAppRepo)(nil)
	_ MembershipRepository   = (*PostgresMembershipRepo)(nil)
	_ APIKeyRepository       = (*PostgresAPIKeyRepo)(nil)
	_ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
)

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, email, name, avatar_url, archived_at, created_at, updated_at FROM users`

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO users (id, email, name, avatar_url)
VALUES ($1, $2, $3, $4)
RETURNING id, email, name, avatar_url, archived_at, created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL, user.ID, user.Email, user.Name, user.AvatarURL)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.ArchivedAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// PostgresAppRepo implements AppRepository.
type PostgresAppRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAppRepo(pool *pgxpool.Pool) *PostgresAppRepo {
	return &PostgresAppRepo{db: pool}
}

const selectAppSQL = `SELECT id, owner_user_id, name, description, authorized_callback_urls, archived_at, created_at, updated_at FROM apps`

func (r *PostgresAppRepo) GetByID(ctx context.Context, appID int64) (domain.App, error) {
	row := r.db.QueryRow(ctx, selectAppSQL+` WHERE id = $1`, appID)
	app, err := scanApp(row)
	if err != nil {
		return domain.App{}, fmt.Errorf("get app: %w", err)
	}
	return app, nil
}

func (r *PostgresAppRepo) ListOwnedBy(ctx context.Context, userID int64) ([]domain.App, error) {
	rows, err := r.db.Query(ctx, selectAppSQL+` WHERE owner_user_id = $1 AND archived_at IS NULL ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned apps: %w", err)
	}
	defer rows.Close()

	var apps []domain.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan owned app: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

const selectMemberAppsSQL = `
SELECT a.id, a.owner_user_id, a.name, a.description, a.authorized_callback_urls, a.archived_at, a.created_at, a.updated_at, m.role
FROM apps a
JOIN memberships m ON m.app_id = a.id
WHERE m.user_id = $1 AND m.status = $2 AND m.archived_at IS NULL AND a.archived_at IS NULL
ORDER BY a.id`

func (r *PostgresAppRepo) ListMemberAppsByUser(ctx context.Context, userID int64) ([]domain.MemberApp, error) {
	rows, err := r.db.Query(ctx, selectMemberAppsSQL, userID, domain.MembershipStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list member apps: %w", err)
	}
	defer rows.Close()

	var result []domain.MemberApp
	for rows.Next() {
		var entry domain.MemberApp
		if err := rows.Scan(
			&entry.App.ID,
			&entry.App.OwnerUserID,
			&entry.App.Name,
			&entry.App.Description,
			&entry.App.AuthorizedCallbackURLs,
			&entry.App.ArchivedAt,
			&entry.App.CreatedAt,
			&entry.App.UpdatedAt,
			&entry.Role,
		); err != nil {
			return nil, fmt.Errorf("scan member app: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func scanApp(row pgx.Row) (domain.App, error) {
	var a domain.App
	err := row.Scan(&a.ID, &a.OwnerUserID, &a.Name, &a.Description, &a.AuthorizedCallbackURLs, &a.ArchivedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// PostgresMembershipRepo implements MembershipRepository.
type PostgresMembershipRepo struct {
	db *pgxpool.Pool
}

func NewPostgresMembershipRepo(pool *pgxpool.Pool) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: pool}
}

const selectMembershipSQL = `SELECT id, user_id, app_id, role, status, archived_at, created_at, updated_at FROM memberships`

func (r *PostgresMembershipRepo) GetActive(ctx context.Context, userID, appID int64) (domain.Membership, error) {
	row := r.db.QueryRow(
		ctx,
		selectMembershipSQL+` WHERE user_id = $1 AND app_id = $2 AND status = $3 AND archived_at IS NULL`,
		userID, appID, domain.MembershipStatusActive,
	)
	membership, err := scanMembership(row)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return membership, nil
}

const insertMembershipSQL = `INSERT INTO memberships (id, user_id, app_id, role, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, user_id, app_id, role, status, archived_at, created_at, updated_at`

func (r *PostgresMembershipRepo) Create(ctx context.Context, membership domain.Membership) (domain.Membership, error) {
	row := r.db.QueryRow(ctx, insertMembershipSQL,
		membership.ID,
		membership.UserID,
		membership.AppID,
		membership.Role,
		membership.Status,
	)
	created, err := scanMembership(row)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("create membership: %w", err)
	}
	return created, nil
}

func scanMembership(row pgx.Row) (domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(&m.ID, &m.UserID, &m.AppID, &m.Role, &m.Status, &m.ArchivedAt, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// PostgresAPIKeyRepo implements APIKeyRepository.
type PostgresAPIKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAPIKeyRepo(pool *pgxpool.Pool) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{db: pool}
}

const insertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, user_id, app_id, scope)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, key_hash, user_id, app_id, scope, last_used_at, archived_at, created_at`

func (r *PostgresAPIKeyRepo) Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	row := r.db.QueryRow(ctx, insertAPIKeySQL, key.ID, key.KeyHash, key.UserID, key.AppID, key.Scope)
	var created domain.APIKey
	if err := row.Scan(
		&created.ID,
		&created.KeyHash,
		&created.UserID,
		&created.AppID,
		&created.Scope,
		&created.LastUsedAt,
		&created.ArchivedAt,
		&created.CreatedAt,
	); err != nil {
		return domain.APIKey{}, fmt.Errorf("create api key: %w", err)
	}
	return created, nil
}

// The key_hash column carries a unique index, so this is an O(1) equality
// lookup joined with the owning user and app.
const selectAPIKeyByHashSQL = `
SELECT k.id, k.key_hash, k.user_id, k.app_id, k.scope, k.last_used_at, k.archived_at, k.created_at,
       u.id, u.email, u.name, u.avatar_url, u.archived_at, u.created_at, u.updated_at,
       a.id, a.owner_user_id, a.name, a.description, a.authorized_callback_urls, a.archived_at, a.created_at, a.updated_at
FROM api_keys k
JOIN users u ON u.id = k.user_id
JOIN apps a ON a.id = k.app_id
WHERE k.key_hash = $1`

func (r *PostgresAPIKeyRepo) FindByHash(ctx context.Context, keyHash string) (domain.APIKey, domain.User, domain.App, error) {
	var (
		k domain.APIKey
		u domain.User
		a domain.App
	)
	if err := r.db.QueryRow(ctx, selectAPIKeyByHashSQL, keyHash).Scan(
		&k.ID, &k.KeyHash, &k.UserID, &k.AppID, &k.Scope, &k.LastUsedAt, &k.ArchivedAt, &k.CreatedAt,
		&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.ArchivedAt, &u.CreatedAt, &u.UpdatedAt,
		&a.ID, &a.OwnerUserID, &a.Name, &a.Description, &a.AuthorizedCallbackURLs, &a.ArchivedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.APIKey{}, domain.User{}, domain.App{}, fmt.Errorf("find api key: %w", err)
	}
	return k, u, a, nil
}

const touchAPIKeySQL = `UPDATE api_keys
SET last_used_at = $2, last_used_ip = $3, last_used_user_agent = $4
WHERE id = $1`

func (r *PostgresAPIKeyRepo) TouchUsage(ctx context.Context, keyID int64, usage domain.APIKeyUsage) error {
	if _, err := r.db.Exec(ctx, touchAPIKeySQL, keyID, usage.SeenAt, usage.IP, usage.UserAgent); err != nil {
		return fmt.Errorf("touch api key usage: %w", err)
	}
	return nil
}

// PostgresRefreshTokenRepo implements RefreshTokenRepository.
type PostgresRefreshTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRefreshTokenRepo(pool *pgxpool.Pool) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: pool}
}

const refreshTokenColumns = `id, token, user_id, app_id, scope, expires_at, archived_at, created_at`

const insertRefreshTokenSQL = `INSERT INTO refresh_tokens (id, token, user_id, app_id, scope, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + refreshTokenColumns

func (r *PostgresRefreshTokenRepo) Create(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error) {
	row := r.db.QueryRow(ctx, insertRefreshTokenSQL,
		token.ID,
		token.Token,
		token.UserID,
		token.AppID,
		token.Scope,
		token.ExpiresAt,
	)
	created, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("create refresh token: %w", err)
	}
	return created, nil
}

func (r *PostgresRefreshTokenRepo) GetActiveByToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	row := r.db.QueryRow(
		ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token = $1 AND archived_at IS NULL`,
		token,
	)
	found, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	return found, nil
}

// ArchiveIfActive is the rotation compare-and-swap: the WHERE clause only
// matches a still-active row, so two concurrent rotations of the same token
// see exactly one winner.
const archiveIfActiveSQL = `UPDATE refresh_tokens
SET archived_at = now()
WHERE token = $1 AND archived_at IS NULL
RETURNING ` + refreshTokenColumns

func (r *PostgresRefreshTokenRepo) ArchiveIfActive(ctx context.Context, token string) (domain.RefreshToken, error) {
	row := r.db.QueryRow(ctx, archiveIfActiveSQL, token)
	claimed, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("archive refresh token: %w", err)
	}
	return claimed, nil
}

func (r *PostgresRefreshTokenRepo) Archive(ctx context.Context, tokenID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET archived_at = now() WHERE id = $1 AND archived_at IS NULL`, tokenID); err != nil {
		return fmt.Errorf("archive refresh token by id: %w", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepo) ArchiveActiveByUserApp(ctx context.Context, userID, appID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET archived_at = now() WHERE user_id = $1 AND app_id = $2 AND archived_at IS NULL`, userID, appID); err != nil {
		return fmt.Errorf("archive refresh tokens for pair: %w", err)
	}
	return nil
}

func scanRefreshToken(row pgx.Row) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.AppID, &t.Scope, &t.ExpiresAt, &t.ArchivedAt, &t.CreatedAt)
	return t, err
}
