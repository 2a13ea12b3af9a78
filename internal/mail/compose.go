package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"net/textproto"
	"strings"
	"time"

	"lessonplan/backend/internal/domain"
)

const base64LineLength = 76

// ComposeMessage 生成 RFC 5322 格式的邮件原文
//
// 无附件时为单个 text/plain 或 text/html 正文，有附件时为 multipart/mixed。
// 主题和发件人名称按 RFC 2047 编码，附件名按 RFC 2231 编码。
func ComposeMessage(msg *domain.EmailMessage, from netmail.Address, now time.Time) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}
	if len(msg.To) == 0 {
		return nil, domain.ErrNoRecipients
	}
	for _, to := range msg.To {
		if strings.ContainsAny(to, "\r\n") {
			return nil, fmt.Errorf("invalid recipient %q", to)
		}
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, domain.ErrInvalidSubject
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", strings.Join(msg.To, ", "))
	writeHeader(&buf, "Subject", mime.BEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID(msg.ID, from.Address))
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", bodyContentType(msg.IsHTML))
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, msg.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}))
	buf.WriteString("\r\n")

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {bodyContentType(msg.IsHTML)},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeQuotedPrintable(textPart, msg.Body); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		if att == nil {
			continue
		}
		name := domain.SanitizeFilename(att.Filename)
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		typeHeader := mime.FormatMediaType(contentType, map[string]string{"name": name})
		if typeHeader == "" {
			typeHeader = mime.FormatMediaType("application/octet-stream", map[string]string{"name": name})
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {typeHeader},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, att.Content); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func bodyContentType(isHTML bool) string {
	if isHTML {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func messageID(id, fromAddress string) string {
	host := "localhost"
	if at := strings.LastIndex(fromAddress, "@"); at >= 0 && at < len(fromAddress)-1 {
		host = fromAddress[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", id, host)
}

func writeQuotedPrintable(w io.Writer, text string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(text)); err != nil {
		return err
	}
	return qp.Close()
}

// writeBase64 按 76 字符一行写出 base64 内容
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(len(encoded), base64LineLength)
		if _, err := io.WriteString(w, encoded[:n]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
