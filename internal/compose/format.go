package compose

import (
	"regexp"
	"strings"
)

// LinkSet holds the three reserved per-recipient link macros.
type LinkSet struct {
	Unsubscribe string
	Preferences string
	Browser     string
}

var placeholderRe = regexp.MustCompile(`(?i)\[([a-z0-9_]+)(?:/([^\]]+))?\]`)

// Format substitutes [IDENTIFIER] and [IDENTIFIER/FALLBACK] placeholders.
// Identifiers are case-insensitive; resolution tries the reserved link macros,
// then the merge tag bindings (keyed uppercase). A placeholder that resolves
// to nothing and has no fallback is left untouched so authoring mistakes stay
// visible in the rendered message. Resolved values are not re-scanned.
func Format(message string, links LinkSet, tags map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(message, func(match string) string {
		m := placeholderRe.FindStringSubmatch(match)
		ident := strings.ToUpper(m[1])

		var value string
		switch ident {
		case "LINK_UNSUBSCRIBE":
			value = links.Unsubscribe
		case "LINK_PREFERENCES":
			value = links.Preferences
		case "LINK_BROWSER":
			value = links.Browser
		default:
			value = tags[ident]
		}

		if v := strings.TrimSpace(value); v != "" {
			return v
		}
		if f := strings.TrimSpace(m[2]); f != "" {
			return f
		}
		return match
	})
}
