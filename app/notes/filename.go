package notes

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameLength 文件名最大字符数（不含扩展名和序号）
const maxFilenameLength = 80

// invalidFilenameChars 文件系统或笔记链接语法不允许的字符
const invalidFilenameChars = `\/:*?"<>|#^[]{}`

// SanitizeFilename 把任务标题转换为安全的文件名
func SanitizeFilename(title string) string {
	title = norm.NFC.String(title)

	var b strings.Builder
	lastSpace := false
	for _, r := range title {
		switch {
		case strings.ContainsRune(invalidFilenameChars, r), unicode.IsControl(r):
			r = ' '
		case unicode.IsSpace(r):
			r = ' '
		}
		if r == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		b.WriteRune(r)
	}

	name := strings.Trim(b.String(), " .")
	if runes := []rune(name); len(runes) > maxFilenameLength {
		name = strings.TrimRight(string(runes[:maxFilenameLength]), " .")
	}
	if name == "" {
		return "task"
	}
	return name
}
