// Package validation содержит функции проверки и генерации реферальных кодов.
package validation

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const (
	codeBodyLen   = 8
	maxPrefixLen  = 8
	minCodeLength = 6
	maxCodeLength = 24
)

// NormalizeCode приводит введённый код к каноническому виду: без пробелов, в верхнем регистре.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode проверяет, что код состоит из латинских букв и цифр с необязательным
// префиксом через дефис.
func IsValidCode(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}

	prefix, body, found := strings.Cut(code, "-")
	if !found {
		body, prefix = prefix, ""
	} else if prefix == "" || len(prefix) > maxPrefixLen {
		return false
	}

	if len(body) < minCodeLength && prefix == "" {
		return false
	}

	return isUpperAlnum(prefix) && body != "" && isUpperAlnum(body)
}

func isUpperAlnum(s string) bool {
	for _, ch := range s {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsDigit(ch) && !unicode.IsUpper(ch) {
			return false
		}
	}
	return true
}

// GenerateCode создаёт случайный код вида PREFIX-XXXXXXXX.
func GenerateCode(prefix string) string {
	body := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:codeBodyLen]

	prefix = NormalizeCode(prefix)
	if prefix == "" {
		return body
	}
	return prefix + "-" + body
}
