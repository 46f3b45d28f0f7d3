// redact маскирует персональные данные и секреты перед записью в лог.
package redact

import "strings"

// Email оставляет два первых символа локальной части и домен.
func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := parts[0], parts[1]
	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Username оставляет первый символ; пустое имя остаётся пустым.
func Username(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	r := []rune(s)
	if len(r) <= 1 {
		return "***"
	}

	return string(r[:1]) + "***"
}

// Presence сообщает только факт наличия секрета: "present" / "absent".
func Presence(secret string) string {
	if secret == "" {
		return "absent"
	}

	return "present"
}
