package storage

import (
	"errors"

	"lessonplan/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 邮箱或用户名已被占用
	ErrUserExists = errors.New("user already exists")
)

// UserRepository 定义用户数据存取操作。
//
// 邮箱和用户名查询均不区分大小写，未找到时返回 ErrUserNotFound。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
}
