package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/boletin/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// UpsertByEmail はemailをキーにユーザーを作成または更新する。
func (r *PostgresUserRepo) UpsertByEmail(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, picture, created_at, last_login_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (email) DO UPDATE
		 SET name = EXCLUDED.name,
		     picture = EXCLUDED.picture,
		     last_login_at = EXCLUDED.last_login_at
		 RETURNING id, created_at`,
		user.ID, user.Email, user.Name, user.Picture, user.CreatedAt, user.LastLoginAt,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
