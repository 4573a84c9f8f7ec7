package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Environment names become directory names, so the charset stays strict:
// letters, digits, dot, underscore, hyphen; must start alphanumeric; 1-50
// characters; never a path separator.
var environmentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,49}$`)

// ValidateEnvironmentName rejects names that cannot safely become an
// environment directory.
func ValidateEnvironmentName(name string) error {
	if name == "" {
		return fmt.Errorf("environment name is empty")
	}
	if len(name) > 50 {
		return fmt.Errorf("environment name %q exceeds 50 characters", name)
	}
	if !environmentNamePattern.MatchString(name) {
		return fmt.Errorf("environment name %q contains invalid characters (allowed: letters, digits, '.', '_', '-')", name)
	}
	return nil
}

// SanitizeEnvironmentName maps arbitrary input onto the allowed charset so
// suggestions in error messages are always valid.
func SanitizeEnvironmentName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := strings.TrimLeft(b.String(), "._-")
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}
