package validator

import (
	"fmt"

	"github.com/rpattn/outreach-core/internal/domain"
)

// Error types reported in ValidationFailure.ErrorType.
const (
	ErrorTypeMissingRequired = "missing_required_field"
	ErrorTypeInvalidFormat   = "invalid_format"
	ErrorTypeOutOfRange      = "out_of_range"
	ErrorTypeInvalidType     = "invalid_type"
)

// Format names a string format check.
type Format string

const (
	FormatEmail    Format = "email"
	FormatURL      Format = "url"
	FormatWebsite  Format = "website"
	FormatPhone    Format = "phone"
	FormatBartonID Format = "barton_id"
)

type ruleKind int

const (
	ruleRequired ruleKind = iota
	ruleFormat
	ruleInteger
)

// Rule is one field-level check. Rules are evaluated in the order they are declared.
type Rule struct {
	Field  string
	kind   ruleKind
	format Format
	min    *int64
	max    *int64
}

// Required fails when the field is absent, null, or blank.
func Required(field string) Rule {
	return Rule{Field: field, kind: ruleRequired}
}

// Formatted checks a present string value against a format.
func Formatted(field string, format Format) Rule {
	return Rule{Field: field, kind: ruleFormat, format: format}
}

// IntegerAtLeast checks a present value is a whole number >= min.
func IntegerAtLeast(field string, min int64) Rule {
	return Rule{Field: field, kind: ruleInteger, min: &min}
}

// IntegerBetween checks a present value is a whole number in [min, max].
func IntegerBetween(field string, min, max int64) Rule {
	return Rule{Field: field, kind: ruleInteger, min: &min, max: &max}
}

// Describe renders the rule for CLI and API listings.
func (r Rule) Describe() string {
	switch r.kind {
	case ruleRequired:
		return fmt.Sprintf("%s: required", r.Field)
	case ruleFormat:
		return fmt.Sprintf("%s: %s format", r.Field, r.format)
	case ruleInteger:
		switch {
		case r.min != nil && r.max != nil:
			return fmt.Sprintf("%s: integer in [%d, %d]", r.Field, *r.min, *r.max)
		case r.min != nil:
			return fmt.Sprintf("%s: integer >= %d", r.Field, *r.min)
		default:
			return fmt.Sprintf("%s: integer", r.Field)
		}
	}
	return r.Field
}

// DefaultRules returns the rule set for an entity kind in declaration order.
func DefaultRules(kind domain.EntityKind) []Rule {
	switch kind {
	case domain.EntityKindCompany:
		return []Rule{
			Required("company_name"),
			Formatted("website_url", FormatWebsite),
			Formatted("email", FormatEmail),
			Formatted("phone", FormatPhone),
			Formatted("linkedin_url", FormatURL),
			IntegerAtLeast("employee_count", 0),
			IntegerBetween("founded_year", 1600, 2100),
		}
	case domain.EntityKindPeople:
		return []Rule{
			Required("first_name"),
			Required("last_name"),
			Formatted("email", FormatEmail),
			Formatted("phone", FormatPhone),
			Formatted("linkedin_url", FormatURL),
			Formatted("company_unique_id", FormatBartonID),
		}
	}
	return nil
}
