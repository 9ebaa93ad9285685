package privacy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// GetDefaultRules returns the built-in rules in evaluation order
func GetDefaultRules() []MatchRule {
	return []MatchRule{
		{
			Category: Phone,
			Pattern:  regexp.MustCompile(`(?i)\b(?:\+?91[-.\s]?)?[6-9]\d{9}\b`),
			Validate: ValidPhone,
		},
		{
			Category: Phone,
			Pattern:  regexp.MustCompile(`(?i)\b\d{10}\b`),
			Validate: ValidPhone,
		},
		{
			Category: Email,
			Pattern:  regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`),
			Validate: ValidEmail,
		},
		{
			Category: AadharID,
			Pattern:  regexp.MustCompile(`(?i)\b\d{12}\b`),
			Validate: ValidAadhar,
		},
		{
			Category: PassportID,
			Pattern:  regexp.MustCompile(`(?i)\b[a-z]\d{7}\b`),
			Validate: Always,
		},
		{
			Category: UPIID,
			Pattern:  regexp.MustCompile(`(?i)\b[a-z0-9._-]+@[a-z0-9.-]+\b`),
			Validate: Always,
		},
		{
			Category: IPAddress,
			Pattern:  regexp.MustCompile(`(?i)\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Validate: Always,
		},
		{
			Category: PinCode,
			Pattern:  regexp.MustCompile(`(?i)\b[1-9]\d{5}\b`),
			Validate: ValidPinCode,
		},
	}
}

// Catalog holds the enabled rules. It is immutable after construction and
// safe for concurrent use.
type Catalog struct {
	rules   []MatchRule
	enabled map[Category]bool
}

// NewCatalog builds a catalog with the named categories enabled. "all"
// enables every category; an unknown name is an error.
func NewCatalog(detectors []string) (*Catalog, error) {
	enabled := make(map[Category]bool, len(Categories))
	for _, category := range Categories {
		enabled[category] = false
	}

	for _, detector := range detectors {
		name := strings.ToLower(strings.TrimSpace(detector))
		if name == "all" {
			for _, category := range Categories {
				enabled[category] = true
			}
			continue
		}

		if _, known := enabled[Category(name)]; !known {
			return nil, fmt.Errorf("unknown detector: %s", detector)
		}
		enabled[Category(name)] = true
	}

	var rules []MatchRule
	for _, rule := range GetDefaultRules() {
		if enabled[rule.Category] {
			rules = append(rules, rule)
		}
	}

	return &Catalog{rules: rules, enabled: enabled}, nil
}

// Rules returns the enabled rules in evaluation order
func (c *Catalog) Rules() []MatchRule {
	out := make([]MatchRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Enabled reports whether a category is enabled
func (c *Catalog) Enabled(category Category) bool {
	return c.enabled[category]
}

// EnabledCategories returns enabled categories in evaluation order
func (c *Catalog) EnabledCategories() []Category {
	var out []Category
	for _, category := range Categories {
		if c.enabled[category] {
			out = append(out, category)
		}
	}
	return out
}

// Scan applies every enabled rule to text and returns the validated hits in
// rule order, then left to right. Rules run independently on the original
// text, so one substring may be returned under several categories.
func (c *Catalog) Scan(text string) []Match {
	var matches []Match

	for i, rule := range c.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(value) {
				continue
			}
			matches = append(matches, Match{
				Value:    value,
				Category: rule.Category,
				Start:    loc[0],
				End:      loc[1],
				Priority: i,
			})
		}
	}

	return matches
}

// Resolve picks a non-overlapping subset of matches ordered by position.
// Earlier start wins; at the same start the longer span wins; for identical
// spans the rule evaluated first wins.
func Resolve(matches []Match) []Match {
	if len(matches) == 0 {
		return nil
	}

	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.Priority < b.Priority
	})

	kept := make([]Match, 0, len(sorted))
	end := 0
	for _, m := range sorted {
		if len(kept) > 0 && m.Start < end {
			continue
		}
		kept = append(kept, m)
		end = m.End
	}

	return kept
}

// ValidPhone accepts 10 to 13 digits once separators are removed
func ValidPhone(value string) bool {
	n := countDigits(value)
	return n >= 10 && n <= 13
}

// ValidAadhar accepts exactly 12 digits once separators are removed
func ValidAadhar(value string) bool {
	return countDigits(value) == 12
}

// ValidEmail requires an @ followed somewhere by a dot
func ValidEmail(value string) bool {
	at := strings.LastIndexByte(value, '@')
	return at >= 0 && strings.Contains(value[at+1:], ".")
}

// ValidPinCode requires exactly six characters
func ValidPinCode(value string) bool {
	return len(value) == 6
}

// Always accepts any pattern match
func Always(string) bool {
	return true
}

func countDigits(value string) int {
	n := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
