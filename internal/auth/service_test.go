package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/storage/memory"
)

const testPassword = "Password123!"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, nil), store
}

func TestService_Register(t *testing.T) {
	service, _ := newTestService(t)

	user, err := service.Register(RegisterInput{
		Email:    "Teacher@Example.com",
		Password: testPassword,
		Username: "teacher",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "teacher@example.com", user.Email)
	assert.Equal(t, domain.RoleTeacher, user.Role)
	assert.False(t, user.IsActive, "new accounts wait for activation")
	assert.NotEqual(t, testPassword, user.PasswordHash)

	t.Run("重复邮箱", func(t *testing.T) {
		_, err := service.Register(RegisterInput{Email: "teacher@example.com", Password: testPassword})
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("非法输入", func(t *testing.T) {
		_, err := service.Register(RegisterInput{Email: "nope", Password: testPassword})
		assert.ErrorIs(t, err, ErrInvalidArgument)

		_, err = service.Register(RegisterInput{Email: "x@example.com", Password: "short"})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestService_ValidateCredentials(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(RegisterInput{
		Email:    "active@example.com",
		Password: testPassword,
		Username: "active",
		Role:     domain.RoleAdmin,
		Active:   true,
	})
	require.NoError(t, err)
	_, err = service.Register(RegisterInput{Email: "pending@example.com", Password: testPassword})
	require.NoError(t, err)

	t.Run("按邮箱登录", func(t *testing.T) {
		record := service.ValidateCredentials("ACTIVE@example.com", testPassword)
		require.NotNil(t, record)
		assert.Equal(t, "active@example.com", record.Identity)
		assert.Equal(t, domain.RoleAdmin, record.Role)
	})

	t.Run("按用户名登录", func(t *testing.T) {
		record := service.ValidateCredentials("active", testPassword)
		require.NotNil(t, record)
		assert.Equal(t, "active@example.com", record.Identity)
	})

	t.Run("失败原因不可区分", func(t *testing.T) {
		assert.Nil(t, service.ValidateCredentials("active@example.com", "wrong"))
		assert.Nil(t, service.ValidateCredentials("missing@example.com", testPassword))
		assert.Nil(t, service.ValidateCredentials("pending@example.com", testPassword))
		assert.Nil(t, service.ValidateCredentials("", testPassword))
		assert.Nil(t, service.ValidateCredentials("active@example.com", ""))
	})
}

func TestService_ActivateAndReset(t *testing.T) {
	service, store := newTestService(t)

	_, err := service.Register(RegisterInput{Email: "new@example.com", Password: testPassword})
	require.NoError(t, err)
	require.Nil(t, service.ValidateCredentials("new@example.com", testPassword))

	require.NoError(t, service.Activate("new@example.com"))
	require.NotNil(t, service.ValidateCredentials("new@example.com", testPassword))

	user, err := store.GetUserByEmail("new@example.com")
	require.NoError(t, err)
	assert.True(t, user.IsEmailVerified)
	assert.NotNil(t, user.LastLoginAt)

	require.NoError(t, service.ResetPassword("new@example.com", "NewPassword456?"))
	assert.Nil(t, service.ValidateCredentials("new@example.com", testPassword))
	assert.NotNil(t, service.ValidateCredentials("new@example.com", "NewPassword456?"))

	assert.ErrorIs(t, service.Activate("missing@example.com"), ErrUserNotFound)
	assert.ErrorIs(t, service.ResetPassword("missing@example.com", "NewPassword456?"), ErrUserNotFound)
	assert.ErrorIs(t, service.ResetPassword("new@example.com", "weak"), ErrInvalidArgument)
	assert.True(t, service.Exists("new@example.com"))
	assert.False(t, service.Exists("missing@example.com"))
}

func TestService_ContactEmail(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Register(RegisterInput{Email: "ana@example.com", Password: testPassword, Username: "ana"})
	require.NoError(t, err)

	email, ok := service.ContactEmail("ANA")
	assert.True(t, ok)
	assert.Equal(t, "ana@example.com", email)

	_, ok = service.ContactEmail("nobody")
	assert.False(t, ok)
}

func TestSessionManager_WithCredentialService(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Register(RegisterInput{Email: "teacher@example.com", Password: testPassword, Active: true})
	require.NoError(t, err)

	m, _ := newTestSessionManagerWith(t, service)

	id, ok := m.Authorize("teacher@example.com", testPassword)
	require.True(t, ok)

	session, ok := m.CheckSession(id)
	require.True(t, ok)
	assert.Equal(t, domain.RoleTeacher, session.Role)
}
