package memory

import (
	"errors"
	"strings"
	"sync"
	"time"

	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/storage"
)

// Store 内存用户存储，用于开发模式和测试
//
// 返回给调用方的是副本，调用方修改后需通过 UpdateUser 写回。
type Store struct {
	mu         sync.RWMutex
	users      map[string]*domain.User // userID -> user
	byEmail    map[string]string       // email -> userID
	byUsername map[string]string       // username -> userID
}

var _ storage.UserRepository = (*Store)(nil)

// NewStore 创建内存用户存储
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*domain.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	if user.ID == "" {
		return errors.New("user ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	username := strings.ToLower(user.Username)

	if _, exists := s.byEmail[email]; exists {
		return storage.ErrUserExists
	}
	if username != "" {
		if _, exists := s.byUsername[username]; exists {
			return storage.ErrUserExists
		}
	}

	// 如果时间戳为零值，则设置为当前时间
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	stored := *user
	s.users[user.ID] = &stored
	s.byEmail[email] = user.ID
	if username != "" {
		s.byUsername[username] = user.ID
	}

	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.copyOf(id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.copyOf(userID)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.copyOf(userID)
}

// UpdateUser 更新用户信息（邮箱不可修改）
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	oldUsername := strings.ToLower(current.Username)
	newUsername := strings.ToLower(user.Username)
	if newUsername != oldUsername && newUsername != "" {
		if _, exists := s.byUsername[newUsername]; exists {
			return storage.ErrUserExists
		}
	}

	updated := *user
	updated.Email = current.Email
	updated.UpdatedAt = time.Now().UTC()

	if oldUsername != newUsername {
		delete(s.byUsername, oldUsername)
		if newUsername != "" {
			s.byUsername[newUsername] = user.ID
		}
	}
	s.users[user.ID] = &updated

	return nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	return nil
}

// CountUsers 返回用户数量
func (s *Store) CountUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) copyOf(userID string) (*domain.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}
