package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-msgsync/internal/models"
)

// 用户存储
type UserStore struct{ DB *sql.DB }

func NewUserStore(db *sql.DB) *UserStore { return &UserStore{DB: db} }

// 创建用户
func (s *UserStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users(id, username, password, nickname, avatar_url, created_at, updated_at) VALUES(?,?,?,?,?,NOW(),NOW())`, u.ID, u.Username, u.Password, u.Nickname, u.AvatarURL)
	return err
}

// 按用户名查询
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, username, password, nickname, avatar_url, created_at, updated_at FROM users WHERE username=?`, username)
	return scanUser(row)
}

// 按 ID 查询
func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, username, password, nickname, avatar_url, created_at, updated_at FROM users WHERE id=?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Nickname, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// 更新用户资料
func (s *UserStore) UpdateUser(ctx context.Context, u *models.User) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE users SET nickname=?, avatar_url=?, updated_at=? WHERE id=?`, u.Nickname, u.AvatarURL, time.Now(), u.ID)
	return err
}
