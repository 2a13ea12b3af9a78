package domain

import "time"

// UserRole 用户角色
type UserRole string

const (
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// User 表示注册用户的业务实体
type User struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email           string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Username        string     `json:"username,omitempty" gorm:"uniqueIndex;type:varchar(100)"`
	PasswordHash    string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Role            UserRole   `json:"role" gorm:"type:varchar(20);default:'teacher';index"`
	IsActive        bool       `json:"isActive" gorm:"default:false"`
	IsEmailVerified bool       `json:"isEmailVerified" gorm:"default:false"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Identity 返回用于会话和验证码绑定的身份标识（邮箱）
func (u *User) Identity() string {
	return u.Email
}
