package normalizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Step is a single string transform.
type Step func(string) string

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// StripAccents removes combining marks, keeping the base letter ("é" -> "e").
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// RemoveSpecialChars keeps letters and digits only; whitespace is dropped too.
func RemoveSpecialChars(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ReplaceSpecialChars builds a single-pass replacer from the map. Longer keys win
// over their prefixes; equal lengths are ordered lexically.
func ReplaceSpecialChars(replacements map[string]string) Step {
	if len(replacements) == 0 {
		return nil
	}

	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, replacements[k])
	}
	replacer := strings.NewReplacer(pairs...)
	return replacer.Replace
}

// numericLike is plain decimal notation: optional sign, digits, optional fraction. No exponents.
var numericLike = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// PadZeros left-pads numeric-like values with zeros up to width, keeping a leading sign.
// Non-numeric values and values already at width are returned unchanged.
func PadZeros(width int) Step {
	if width <= 0 {
		return nil
	}
	return func(s string) string {
		if s == "" || len(s) >= width {
			return s
		}
		if !numericLike.MatchString(s) {
			return s
		}
		sign := ""
		digits := s
		if s[0] == '-' || s[0] == '+' {
			sign, digits = s[:1], s[1:]
		}
		return sign + strings.Repeat("0", width-len(s)) + digits
	}
}

// RegexReplaceFirst replaces the first match of pattern. $1-style references are expanded.
// An invalid pattern yields no step.
func RegexReplaceFirst(pattern, replacement string) Step {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return func(s string) string {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			return s
		}
		expanded := re.ExpandString(nil, replacement, s, loc)
		return s[:loc[0]] + string(expanded) + s[loc[1]:]
	}
}
