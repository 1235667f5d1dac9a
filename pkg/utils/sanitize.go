package utils

import (
	"strings"
	"unicode"
)

// SanitizeLabel keeps letters, numbers, underscores, hyphens, whitespace and
// dots. Device-supplied labels such as provider and device name go through it
// before they are stored or rendered.
func SanitizeLabel(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if isLabelRune(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizeOptionalLabel applies SanitizeLabel to a present value and keeps nil as nil.
func SanitizeOptionalLabel(input *string) *string {
	if input == nil {
		return nil
	}
	cleaned := SanitizeLabel(*input)
	return &cleaned
}

func isLabelRune(r rune) bool {
	switch {
	case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsMark(r):
		return true
	case r == '_', r == '-', r == '.':
		return true
	case unicode.IsSpace(r):
		return true
	}
	return false
}
