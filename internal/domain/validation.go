package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 128 chars)")
	ErrPasswordTooWeak  = errors.New("password must contain upper, lower, digit and special characters")
	ErrUsernameTooShort = errors.New("username too short (min 3 chars)")
	ErrUsernameTooLong  = errors.New("username too long (max 32 chars)")
	ErrInvalidUsername  = errors.New("invalid username format")
	ErrNoRecipients     = errors.New("message has no recipients")
	ErrInvalidSubject   = errors.New("subject contains control characters or is too long")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	MinPasswordLength = 8
	MaxPasswordLength = 128

	MinUsernameLength = 3
	MaxUsernameLength = 32

	MaxSubjectLength = 255
)

var (
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

	// 用户名验证（必须以字母开头）
	usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*[a-zA-Z0-9]$|^[a-zA-Z]$`)
)

// NormalizeEmail 去除空白并转换为小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail 完整验证邮箱地址
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)

	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ErrInvalidEmail
	}

	if err := validateLocalPart(email[:at]); err != nil {
		return err
	}
	return validateDomain(email[at+1:])
}

func validateLocalPart(localPart string) error {
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) || strings.Contains(localPart, "..") || strings.HasSuffix(localPart, ".") {
		return ErrInvalidLocalPart
	}
	return nil
}

func validateDomain(domain string) error {
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidatePassword 验证密码长度和复杂度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune("!@#$%^&*()_+-=[]{}|;:,.<>?", r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return ErrPasswordTooWeak
	}
	return nil
}

// ValidateUsername 验证用户名
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateSubject 主题不允许控制字符，防止邮件头注入
func ValidateSubject(subject string) error {
	if len(subject) > MaxSubjectLength {
		return ErrInvalidSubject
	}
	for _, r := range subject {
		if r < 32 || r == 127 {
			return ErrInvalidSubject
		}
	}
	return nil
}

// Validate 入队前校验邮件
func (m *EmailMessage) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	for _, to := range m.To {
		if err := ValidateEmail(to); err != nil {
			return err
		}
	}
	if err := ValidateSubject(m.Subject); err != nil {
		return err
	}
	switch m.Priority {
	case PriorityHigh, PriorityNormal:
	default:
		return errors.New("invalid priority")
	}
	for _, a := range m.Attachments {
		if a == nil || strings.TrimSpace(a.Filename) == "" {
			return errors.New("attachment filename is required")
		}
	}
	return nil
}

// Validate 校验用户实体
func (u *User) Validate() error {
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if u.Username != "" {
		if err := ValidateUsername(u.Username); err != nil {
			return err
		}
	}
	if u.Role != RoleTeacher && u.Role != RoleAdmin {
		return errors.New("invalid role")
	}
	return nil
}
