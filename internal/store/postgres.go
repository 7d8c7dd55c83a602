package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE email = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE id = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Refresh sessions and access-token revocation. These back the Postgres
// session store; Redis is preferred when configured.

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Projects. Every read and write is scoped by the compound
// (id, user_id) predicate so ownership and existence are a single check.

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	pages, files, commit, err := marshalContent(project.Pages, project.Files, project.LastCommit)
	if err != nil {
		return Project{}, err
	}
	const query = `
		INSERT INTO projects (id, user_id, name, slug, description, pages, files, last_commit, screenshot_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		project.ID, project.UserID, project.Name, project.Slug, project.Description,
		pages, files, commit, project.ScreenshotURL,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) UpdateProjectContent(ctx context.Context, userID, projectID string, pages []Page, files []File, lastCommit Commit) (Project, error) {
	pagesJSON, filesJSON, commitJSON, err := marshalContent(pages, files, lastCommit)
	if err != nil {
		return Project{}, err
	}
	const query = `
		UPDATE projects
		SET pages=$3, files=$4, last_commit=$5, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING id, user_id, name, slug, description, screenshot_url, created_at, updated_at
	`
	var project Project
	err = s.db.QueryRowContext(ctx, query, projectID, userID, pagesJSON, filesJSON, commitJSON).Scan(
		&project.ID, &project.UserID, &project.Name, &project.Slug, &project.Description,
		&project.ScreenshotURL, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	project.Pages = pages
	project.Files = files
	project.LastCommit = lastCommit
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, userID, projectID string) (Project, error) {
	const query = `
		SELECT id, user_id, name, slug, description, pages, files, last_commit, screenshot_url, created_at, updated_at
		FROM projects WHERE id=$1 AND user_id=$2
	`
	return s.scanProject(s.db.QueryRowContext(ctx, query, projectID, userID))
}

func (s *PostgresStore) DeleteProject(ctx context.Context, userID, projectID string) error {
	// Deleting an absent row is a no-op, matching upstream semantics.
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	const query = `
		SELECT id, user_id, name, slug, description, pages, files, last_commit, screenshot_url, created_at, updated_at
		FROM projects WHERE user_id=$1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		project, err := s.scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProjectScreenshot(ctx context.Context, userID, projectID, screenshotURL string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects SET screenshot_url=$3, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING id
	`, projectID, userID, screenshotURL).Scan(&id)
	if err != nil {
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanProject(row rowScanner) (Project, error) {
	var project Project
	var pages, files, commit []byte
	err := row.Scan(
		&project.ID, &project.UserID, &project.Name, &project.Slug, &project.Description,
		&pages, &files, &commit, &project.ScreenshotURL, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if err := json.Unmarshal(pages, &project.Pages); err != nil {
		return Project{}, fmt.Errorf("decode pages: %w", err)
	}
	if err := json.Unmarshal(files, &project.Files); err != nil {
		return Project{}, fmt.Errorf("decode files: %w", err)
	}
	if err := json.Unmarshal(commit, &project.LastCommit); err != nil {
		return Project{}, fmt.Errorf("decode last commit: %w", err)
	}
	return project, nil
}

func marshalContent(pages []Page, files []File, lastCommit Commit) ([]byte, []byte, []byte, error) {
	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode pages: %w", err)
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode files: %w", err)
	}
	commitJSON, err := json.Marshal(lastCommit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode last commit: %w", err)
	}
	return pagesJSON, filesJSON, commitJSON, nil
}
