package oracle

import "strings"

// Style selects the target path convention for normalization (spec.md
// §4.3, §6 "path_style").
type Style int

const (
	StyleUnix Style = iota
	StyleWindows
)

// Rewrite is a (cut_prefix, new_root) substitution applied before
// normalization (spec.md §4.3, §6 "path_rewrite").
type Rewrite struct {
	CutPrefix string
	NewRoot   string
}

// Normalize canonicalizes a path as read from debug info: collapses
// duplicate separators, resolves "." and ".." components, normalizes drive
// letters for Windows-style paths, and applies rewrite before any of that
// (spec.md §4.3).
func Normalize(path string, style Style, rewrite Rewrite) string {
	if rewrite.CutPrefix != "" && strings.HasPrefix(path, rewrite.CutPrefix) {
		path = rewrite.NewRoot + strings.TrimPrefix(path, rewrite.CutPrefix)
	}

	sep := "/"
	if style == StyleWindows {
		sep = "\\"
		path = strings.ReplaceAll(path, "/", sep)
	} else {
		path = strings.ReplaceAll(path, "\\", sep)
	}

	var drive string
	rest := path
	if style == StyleWindows && len(path) >= 2 && path[1] == ':' {
		drive = strings.ToUpper(path[:1]) + ":"
		rest = path[2:]
	}

	parts := strings.Split(rest, sep)
	var out []string
	absolute := strings.HasPrefix(rest, sep)
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !absolute {
				out = append(out, "..")
			}
		default:
			out = append(out, p)
		}
	}

	result := strings.Join(out, sep)
	if absolute {
		result = sep + result
	}
	return drive + result
}
