package utils

import (
	"fmt"
	"strings"
	"unicode"
)

// SplitArgs splits a command-line fragment into arguments, honoring single
// and double quotes and backslash escapes. Used for the user's extra
// downloader arguments.
// Example: `--foo "a b" c` -> ["--foo", "a b", "c"]
func SplitArgs(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	escaped := false
	started := false

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			started = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case unicode.IsSpace(r):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing backslash in %q", s)
	}
	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote in %q", quote, s)
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

// SanitizeFilename strips characters that are unsafe in file names.
func SanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune("<>:\"/\\|?*", r) {
			return -1
		}
		return r
	}, name)
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}
