package privacy

import "strings"

// Redacted is the generic marker used when no category rule applies
const Redacted = "[REDACTED]"

// Mask returns the masked form of value for category. Values that fail a
// rule's precondition get Redacted, never the original text.
func Mask(value string, category Category) string {
	switch category {
	case Phone, AadharID:
		runes := []rune(value)
		if len(runes) >= 4 {
			return string(runes[:2]) + strings.Repeat("X", len(runes)-4) + string(runes[len(runes)-2:])
		}

	case Email:
		local, domain, ok := strings.Cut(value, "@")
		if ok && local != "" {
			runes := []rune(local)
			return string(runes[0]) + strings.Repeat("X", len(runes)-1) + "@" + domain
		}

	case IPAddress:
		parts := strings.Split(value, ".")
		if len(parts) == 4 {
			return parts[0] + "." + parts[1] + ".XXX.XXX"
		}

	case PassportID:
		runes := []rune(value)
		if len(runes) > 1 {
			return string(runes[0]) + strings.Repeat("X", len(runes)-1)
		}

	case PersonName, Address:
		return maskWords(value)
	}

	return Redacted
}

// maskWords keeps the initials of the first and last words
func maskWords(value string) string {
	words := strings.Fields(value)
	if len(words) <= 1 {
		return "XXXX"
	}
	first := []rune(words[0])
	last := []rune(words[len(words)-1])
	return string(first[0]) + "XXX " + string(last[0]) + "XXX"
}

// apply rewrites text once, left to right, replacing each resolved span
func apply(text string, spans []Match) string {
	if len(spans) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, m := range spans {
		b.WriteString(text[last:m.Start])
		b.WriteString(Mask(m.Value, m.Category))
		last = m.End
	}
	b.WriteString(text[last:])

	return b.String()
}
