package sql

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/storage"
)

var _ storage.UserRepository = (*Store)(nil)

// ========== User Repository ==========

// CreateUser 创建新用户，邮箱统一存储为小写
func (s *Store) CreateUser(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)

	if _, err := s.GetUserByEmail(user.Email); err == nil {
		return storage.ErrUserExists
	}
	if user.Username != "" {
		if _, err := s.GetUserByUsername(user.Username); err == nil {
			return storage.ErrUserExists
		}
	}

	if err := s.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrUserExists
		}
		return err
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	return s.first("id = ?", id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	return s.first("email = ?", strings.ToLower(email))
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	return s.first("lower(username) = ?", strings.ToLower(username))
}

// UpdateUser 更新用户信息（邮箱不可修改）
func (s *Store) UpdateUser(user *domain.User) error {
	result := s.db.Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"username":          user.Username,
			"password_hash":     user.PasswordHash,
			"role":              user.Role,
			"is_active":         user.IsActive,
			"is_email_verified": user.IsEmailVerified,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrUserExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	now := time.Now().UTC()
	result := s.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"last_login_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

func (s *Store) first(query string, args ...interface{}) (*domain.User, error) {
	var user domain.User
	if err := s.db.Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
