package privacy

import "strings"

// defaultFieldNames are substrings that mark a field name as PII-bearing
var defaultFieldNames = []string{
	"name", "first_name", "last_name", "customer_name", "full_name",
	"phone", "mobile", "contact", "telephone",
	"email", "email_id", "mail",
	"address", "location", "addr",
	"aadhar", "aadhaar", "passport", "pan",
	"upi_id", "ip_address",
}

// identityFields get whole-value name masking; matched exactly
var identityFields = map[string]struct{}{
	"name":          {},
	"first_name":    {},
	"last_name":     {},
	"customer_name": {},
}

// networkAddressFields contain "address" but hold an IP; their values are
// pattern-scanned so the ip_address mask keeps the network prefix
var networkAddressFields = []string{"ip_address", "ipaddress"}

// FieldClassifier decides from a field name alone whether special handling
// applies. The table is frozen after construction.
type FieldClassifier struct {
	table []string
}

// NewFieldClassifier creates a classifier over the built-in table plus extra
// entries
func NewFieldClassifier(extra ...string) *FieldClassifier {
	seen := make(map[string]struct{}, len(defaultFieldNames)+len(extra))
	table := make([]string, 0, len(defaultFieldNames)+len(extra))

	for _, entry := range append(append([]string{}, defaultFieldNames...), extra...) {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		table = append(table, entry)
	}

	return &FieldClassifier{table: table}
}

// IsPIIField reports whether the lowercased name contains any table entry
func (c *FieldClassifier) IsPIIField(name string) bool {
	lower := strings.ToLower(name)
	for _, entry := range c.table {
		if strings.Contains(lower, entry) {
			return true
		}
	}
	return false
}

// IsIdentityField reports whether the name is exactly a person-name field
func (c *FieldClassifier) IsIdentityField(name string) bool {
	_, ok := identityFields[strings.ToLower(name)]
	return ok
}

// IsAddressField reports whether the name contains "address" and is not an
// IP address field
func (c *FieldClassifier) IsAddressField(name string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "address") {
		return false
	}
	for _, entry := range networkAddressFields {
		if strings.Contains(lower, entry) {
			return false
		}
	}
	return true
}

// Classify returns the handling class for a field name. Identity is checked
// before address.
func (c *FieldClassifier) Classify(name string) FieldClass {
	switch {
	case c.IsIdentityField(name):
		return FieldIdentity
	case c.IsAddressField(name):
		return FieldAddress
	case c.IsPIIField(name):
		return FieldPIINamed
	default:
		return FieldUnclassified
	}
}

// Entries returns a copy of the field-name table
func (c *FieldClassifier) Entries() []string {
	out := make([]string, len(c.table))
	copy(out, c.table)
	return out
}
