package security

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"lessonplan/backend/internal/domain"
)

// ErrAttachmentRejected 附件未通过出站安全检查
var ErrAttachmentRejected = errors.New("attachment rejected")

// AttachmentPolicy 出站邮件附件安全检查器
type AttachmentPolicy struct {
	// 允许的声明类型
	allowedMimeTypes map[string]bool

	// 单个附件最大字节数
	maxFileSize int64

	// 危险文件扩展名
	dangerousExtensions map[string]bool

	// 内容嗅探命中即拒绝的类型，包括其子类型
	blockedContentTypes map[string]bool
}

// NewAttachmentPolicy 创建附件检查器，maxFileSize <= 0 时使用 10MB
func NewAttachmentPolicy(maxFileSize int64) *AttachmentPolicy {
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	return &AttachmentPolicy{
		allowedMimeTypes: map[string]bool{
			"text/plain":       true,
			"text/csv":         true,
			"text/calendar":    true,
			"application/pdf":  true,
			"application/json": true,
			"image/jpeg":       true,
			"image/png":        true,
			"image/gif":        true,
			"image/webp":       true,
			"application/zip":  true,

			"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
			"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
		},
		maxFileSize: maxFileSize,
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".msi": true,
			".ps1": true,
			".sh":  true,
		},
		blockedContentTypes: map[string]bool{
			"application/vnd.microsoft.portable-executable": true,
			"application/x-elf":                             true,
			"application/x-mach-binary":                     true,
			"application/jar":                               true,
		},
	}
}

// Check 检查单个附件，声明类型为空时以嗅探结果为准
func (p *AttachmentPolicy) Check(att *domain.EmailAttachment) error {
	if att == nil {
		return nil
	}

	ext := strings.ToLower(filepath.Ext(att.Filename))
	if p.dangerousExtensions[ext] {
		return fmt.Errorf("%w: dangerous file extension %s", ErrAttachmentRejected, ext)
	}

	if int64(len(att.Content)) > p.maxFileSize {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrAttachmentRejected, att.Filename, p.maxFileSize)
	}

	detected := mimetype.Detect(att.Content)
	for m := detected; m != nil; m = m.Parent() {
		if p.blockedContentTypes[m.String()] {
			return fmt.Errorf("%w: executable content in %s", ErrAttachmentRejected, att.Filename)
		}
	}

	declared := att.ContentType
	if declared == "" {
		declared = detected.String()
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return fmt.Errorf("%w: invalid content type %q", ErrAttachmentRejected, declared)
	}
	if !p.allowedMimeTypes[mediaType] {
		return fmt.Errorf("%w: content type %s not allowed", ErrAttachmentRejected, mediaType)
	}
	return nil
}
