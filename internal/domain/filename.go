package domain

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxFilenameBytes 附件名的字节上限
const maxFilenameBytes = 200

// 收件端可能在任意平台落盘，按最严格的字符集替换
var filenameReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_", "|", "_",
	"?", "_", "*", "_", "\\", "_", "/", "_", "\x00", "_",
)

// SanitizeFilename 清理附件名，用于 Content-Type 的 name 与 Content-Disposition 的 filename
//
// 只保留最后一段路径，替换跨平台不允许的字符，去掉控制字符，
// 按字节截断到 200 并保留扩展名。结果为空时返回 "unnamed"。
func SanitizeFilename(filename string) string {
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))
	filename = filenameReplacer.Replace(filename)

	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	filename = limitFilename(filename, maxFilenameBytes)
	filename = strings.Trim(filename, " .")

	if filename == "" {
		return "unnamed"
	}
	return filename
}

// limitFilename 不截断多字节字符
func limitFilename(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := path.Ext(s)
	name := strings.TrimSuffix(s, ext)

	available := maxLen - len(ext)
	if available <= 0 {
		return ext
	}

	cut := available
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut] + ext
}
