// Package validation checks operator-supplied names that end up in file
// system paths.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/digirec/internal/errors"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for a name.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// FilePrefixRules returns the rules for the file_name recording prefix.
func FilePrefixRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName checks name against rules. Violations are config errors
// naming field.
func ValidateName(field, name string, rules NameRules) error {
	if reason := check(name, rules); reason != "" {
		return errors.NewInvalidValue(field, name, reason)
	}
	return nil
}

func check(name string, rules NameRules) string {
	if len(name) < rules.MinLength {
		return fmt.Sprintf("too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Sprintf("too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return "cannot be '.' or '..'"
	}
	if strings.HasPrefix(name, ".") {
		return "cannot start with '.'"
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Sprintf("control character at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Sprintf("path separator at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Sprintf("invalid character '%c' at position %d", r, i)
		}
	}
	return ""
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateFilePrefix validates the file_name recording setting.
func ValidateFilePrefix(name string) error {
	return ValidateName("file_name", name, FilePrefixRules())
}
