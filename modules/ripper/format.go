package ripper

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	partialPrefix    = "PARTIAL_"
	incompletePrefix = "INCOMPLETE_"
	untitled         = "untitled"
)

// ByteCountIEC formats b with binary unit prefixes, e.g. 1.5 MiB.
func ByteCountIEC[T int | int64](b T) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := int64(b) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// segmentName builds the file name for a title. Titles are used verbatim
// unless sanitize is set.
func segmentName(prefix, title, ext string, sanitize bool) string {
	if sanitize {
		title = sanitizeTitle(title)
	}
	return prefix + title + "." + ext
}

func sanitizeTitle(title string) string {
	title = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, title)

	title = strings.TrimSpace(title)
	if title == "" || title == "." || title == ".." {
		return untitled
	}
	return title
}
