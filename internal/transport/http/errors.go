package httptransport

import (
	"errors"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/domain"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrInvalidEmail:     "邮箱格式无效",
	domain.ErrEmailTooLong:     "邮箱格式无效",
	domain.ErrLocalPartTooLong: "邮箱格式无效",
	domain.ErrDomainTooLong:    "邮箱格式无效",
	domain.ErrInvalidLocalPart: "邮箱格式无效",
	domain.ErrInvalidDomain:    "邮箱格式无效",
	domain.ErrPasswordTooShort: "密码长度不足",
	domain.ErrPasswordTooLong:  "密码过长",
	domain.ErrPasswordTooWeak:  "密码必须包含大小写字母、数字和特殊字符",
	domain.ErrInvalidUsername:  "用户名格式无效",
	domain.ErrUsernameTooShort: "用户名过短",
	domain.ErrUsernameTooLong:  "用户名过长",
	auth.ErrUserExists:         "该邮箱或用户名已被注册",
	auth.ErrUserNotFound:       "用户不存在",
}

// GetErrorMessage 获取错误的中文消息，支持包装过的错误
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return MsgInvalidRequest
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgInvalidPurpose     = "验证码用途无效"
	MsgInvalidCode        = "验证码无效或已过期"
	MsgCodeAccepted       = "如果账号存在，验证码已发送到注册邮箱"
	MsgLoggedOut          = "已退出登录"
	MsgRegisterFailed     = "注册失败，请稍后重试"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)
