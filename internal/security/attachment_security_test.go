package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonplan/backend/internal/domain"
)

func TestAttachmentPolicy_Check(t *testing.T) {
	policy := NewAttachmentPolicy(1024)

	t.Run("允许普通文本附件", func(t *testing.T) {
		err := policy.Check(&domain.EmailAttachment{
			Filename:    "lesson-plan.txt",
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte("第一课 分数的加减法"),
		})
		assert.NoError(t, err)
	})

	t.Run("未声明类型时按内容嗅探", func(t *testing.T) {
		err := policy.Check(&domain.EmailAttachment{
			Filename: "notes.txt",
			Content:  []byte("plain notes"),
		})
		assert.NoError(t, err)
	})

	t.Run("nil 附件忽略", func(t *testing.T) {
		assert.NoError(t, policy.Check(nil))
	})

	cases := map[string]*domain.EmailAttachment{
		"危险扩展名": {
			Filename:    "setup.EXE",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.4"),
		},
		"超过大小上限": {
			Filename:    "big.txt",
			ContentType: "text/plain",
			Content:     bytes.Repeat([]byte("a"), 1025),
		},
		"伪装成文本的 PE 可执行文件": {
			Filename:    "readme.txt",
			ContentType: "text/plain",
			Content:     append([]byte("MZ"), make([]byte, 64)...),
		},
		"伪装成 PDF 的 ELF 可执行文件": {
			Filename:    "handout.pdf",
			ContentType: "application/pdf",
			Content:     append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 60)...),
		},
		"不允许的声明类型": {
			Filename:    "page.html",
			ContentType: "text/html",
			Content:     []byte("hello"),
		},
		"无法解析的声明类型": {
			Filename:    "x.txt",
			ContentType: "text/",
			Content:     []byte("hello"),
		},
	}
	for name, att := range cases {
		t.Run(name, func(t *testing.T) {
			err := policy.Check(att)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAttachmentRejected)
		})
	}
}

func TestNewAttachmentPolicy_DefaultLimit(t *testing.T) {
	policy := NewAttachmentPolicy(0)
	assert.Equal(t, int64(10*1024*1024), policy.maxFileSize)
}
