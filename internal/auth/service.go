package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/storage"
)

var (
	// ErrInvalidArgument 参数为空或格式错误
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUserExists 邮箱或用户名已存在
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
)

// UserRecord 凭据校验成功后暴露给会话管理器的最小用户视图
type UserRecord struct {
	Identity string
	Role     domain.UserRole
	IsActive bool
}

// CredentialValidator 用户存储协作方契约
//
// 未知用户、已禁用用户和密码错误都返回 nil，调用方无法区分。
type CredentialValidator interface {
	ValidateCredentials(identity, credential string) *UserRecord
}

// Service 用户凭据服务：校验、注册、激活、重置密码
type Service struct {
	userRepo storage.UserRepository
	log      *zap.Logger
}

var _ CredentialValidator = (*Service)(nil)

// NewService 创建用户凭据服务
func NewService(userRepo storage.UserRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		userRepo: userRepo,
		log:      log.Named("credentials"),
	}
}

// RegisterInput 注册输入
type RegisterInput struct {
	Email    string
	Password string
	Username string
	Role     domain.UserRole
	Active   bool // false 表示需要通过激活码激活
}

// ValidateCredentials 校验身份和密码
//
// 先按邮箱查找，再按用户名查找。用户不存在时仍与占位哈希比较一次，
// 使响应时间不暴露账号是否存在。
func (s *Service) ValidateCredentials(identity, credential string) *UserRecord {
	identity = strings.TrimSpace(identity)
	if identity == "" || credential == "" {
		return nil
	}

	user := s.lookup(identity)

	hash := placeholderHash()
	if user != nil {
		hash = user.PasswordHash
	}
	passwordOK := CheckPassword(credential, hash)

	if user == nil || !passwordOK || !user.IsActive {
		return nil
	}

	if err := s.userRepo.UpdateLastLogin(user.ID); err != nil {
		s.log.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &UserRecord{
		Identity: user.Email,
		Role:     user.Role,
		IsActive: user.IsActive,
	}
}

// Register 创建用户
func (s *Service) Register(input RegisterInput) (*domain.User, error) {
	email := domain.NormalizeEmail(input.Email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if input.Username != "" {
		if err := domain.ValidateUsername(input.Username); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}

	role := input.Role
	if role == "" {
		role = domain.RoleTeacher
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:              uuid.New().String(),
		Email:           email,
		Username:        input.Username,
		PasswordHash:    passwordHash,
		Role:            role,
		IsActive:        input.Active,
		IsEmailVerified: input.Active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if err := s.userRepo.CreateUser(user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(role)))
	return user, nil
}

// Activate 激活账号（激活码校验通过后调用）
func (s *Service) Activate(identity string) error {
	user := s.lookup(identity)
	if user == nil {
		return ErrUserNotFound
	}
	if user.IsActive && user.IsEmailVerified {
		return nil
	}

	user.IsActive = true
	user.IsEmailVerified = true
	return s.userRepo.UpdateUser(user)
}

// ResetPassword 设置新密码（重置码校验通过后调用）
func (s *Service) ResetPassword(identity, newPassword string) error {
	if err := domain.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	user := s.lookup(identity)
	if user == nil {
		return ErrUserNotFound
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hash
	return s.userRepo.UpdateUser(user)
}

// Exists 判断身份是否对应一个已注册用户
func (s *Service) Exists(identity string) bool {
	return s.lookup(identity) != nil
}

// ContactEmail 返回身份对应账号的邮箱，验证码绑定到该邮箱
func (s *Service) ContactEmail(identity string) (string, bool) {
	user := s.lookup(identity)
	if user == nil {
		return "", false
	}
	return user.Email, true
}

// lookup 优先按邮箱查找，失败再按用户名查找
func (s *Service) lookup(identity string) *domain.User {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return nil
	}

	user, err := s.userRepo.GetUserByEmail(identity)
	if err == nil {
		return user
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		s.log.Warn("user lookup by email failed", zap.Error(err))
	}

	user, err = s.userRepo.GetUserByUsername(identity)
	if err == nil {
		return user
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		s.log.Warn("user lookup by username failed", zap.Error(err))
	}
	return nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

var placeholderHash = sync.OnceValue(func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return ""
	}
	return string(hash)
})
