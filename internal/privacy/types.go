package privacy

import (
	"regexp"

	"github.com/raaihank/pii-sentinel/internal/record"
)

// Category is a PII category tag
type Category string

const (
	Phone      Category = "phone"
	Email      Category = "email"
	AadharID   Category = "aadhar_id"
	PassportID Category = "passport_id"
	UPIID      Category = "upi_id"
	IPAddress  Category = "ip_address"
	PinCode    Category = "pin_code"
	PersonName Category = "person_name"
	Address    Category = "address"
)

// Categories lists every category in catalog evaluation order. The two
// whole-value categories come last; they have no pattern rules.
var Categories = []Category{
	Phone, Email, AadharID, PassportID, UPIID, IPAddress, PinCode, PersonName, Address,
}

// Validator reports whether matched text is plausibly its category
type Validator func(value string) bool

// MatchRule represents a single PII detection rule
type MatchRule struct {
	Category Category
	Pattern  *regexp.Regexp
	Validate Validator
}

// Match is a validated rule hit on the original text. Start and End are
// byte offsets; Priority is the index of the rule that produced it.
type Match struct {
	Value    string   `json:"-"`
	Category Category `json:"category"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Priority int      `json:"-"`
}

// Source says how a field was recognized as PII
type Source string

const (
	SourceFieldName Source = "field_name"
	SourcePattern   Source = "pattern"
)

// Finding represents a detection result for one field and category
type Finding struct {
	Field    string   `json:"field"`
	Category Category `json:"category"`
	Source   Source   `json:"source"`
	Count    int      `json:"count"`
}

// Result contains the outcome of processing one record
type Result struct {
	Redacted record.Record `json:"redacted"`
	HasPII   bool          `json:"has_pii"`
	Findings []Finding     `json:"findings"`
}

// FieldClass is the outcome of classifying a field by name alone
type FieldClass int

const (
	FieldUnclassified FieldClass = iota
	FieldPIINamed
	FieldIdentity
	FieldAddress
)

func (c FieldClass) String() string {
	switch c {
	case FieldPIINamed:
		return "pii_named"
	case FieldIdentity:
		return "identity"
	case FieldAddress:
		return "address"
	default:
		return "unclassified"
	}
}
