package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// symbolPattern matches anything that is not a letter, digit, underscore or
// whitespace. Letters from every script are kept.
var symbolPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// StripSymbols removes emoji, punctuation and other symbols, keeping letters,
// digits, underscores and whitespace. Surrounding whitespace is trimmed.
func StripSymbols(s string) string {
	return strings.TrimSpace(symbolPattern.ReplaceAllString(s, ""))
}

// FixMojibake repairs strings from Facebook and Instagram JSON exports, which
// encode each UTF-8 byte as a separate \u00XX code point. Strings containing
// runes above U+00FF are already correct and returned unchanged, as are strings
// whose reinterpreted bytes are not valid UTF-8.
func FixMojibake(s string) string {
	if s == "" {
		return s
	}
	buf := make([]byte, 0, len(s))
	needsFix := false
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		if r >= 0x80 {
			needsFix = true
		}
		buf = append(buf, byte(r))
	}
	if !needsFix || !utf8.Valid(buf) {
		return s
	}
	return string(buf)
}
