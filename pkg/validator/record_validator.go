package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/rpattn/outreach-core/internal/domain"
)

var (
	phoneCharset = regexp.MustCompile(`^\+?[0-9\s().\-]+$`)
	nonDigit     = regexp.MustCompile(`[^0-9]`)
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// RecordValidator evaluates intake payloads against per-kind rule sets.
// It performs no I/O and reads no clock; identical input yields identical output.
type RecordValidator struct {
	rules     map[domain.EntityKind][]Rule
	formats   *playground.Validate
	idPattern *regexp.Regexp
}

// NewRecordValidator builds a validator with the default rule sets. idPattern
// is the Barton ID format used for reference fields; nil disables that check.
func NewRecordValidator(idPattern *regexp.Regexp) *RecordValidator {
	rules := make(map[domain.EntityKind][]Rule, len(domain.EntityKinds))
	for _, kind := range domain.EntityKinds {
		rules[kind] = DefaultRules(kind)
	}
	return &RecordValidator{
		rules:     rules,
		formats:   playground.New(),
		idPattern: idPattern,
	}
}

// WithRules returns a validator using rules for kind instead of the defaults.
func (v *RecordValidator) WithRules(kind domain.EntityKind, rules []Rule) *RecordValidator {
	next := make(map[domain.EntityKind][]Rule, len(v.rules))
	for k, r := range v.rules {
		next[k] = r
	}
	next[kind] = append([]Rule(nil), rules...)
	return &RecordValidator{rules: next, formats: v.formats, idPattern: v.idPattern}
}

// Rules lists the rules evaluated for kind.
func (v *RecordValidator) Rules(kind domain.EntityKind) []Rule {
	return append([]Rule(nil), v.rules[kind]...)
}

// Validate runs every rule for kind and collects all failures in rule order.
func (v *RecordValidator) Validate(kind domain.EntityKind, payload domain.Payload) domain.ValidationResult {
	failures := []domain.ValidationFailure{}
	for _, rule := range v.rules[kind] {
		if failure := v.check(rule, payload); failure != nil {
			failures = append(failures, *failure)
		}
	}

	status := domain.ValidationPassed
	if len(failures) > 0 {
		status = domain.ValidationFailed
	}
	return domain.ValidationResult{Status: status, Failures: failures}
}

func (v *RecordValidator) check(rule Rule, payload domain.Payload) *domain.ValidationFailure {
	value, present := payload[rule.Field]
	missing := !present || isBlank(value)

	switch rule.kind {
	case ruleRequired:
		if missing {
			return &domain.ValidationFailure{
				Field:     rule.Field,
				ErrorType: ErrorTypeMissingRequired,
				Message:   fmt.Sprintf("%s is required", rule.Field),
			}
		}
	case ruleFormat:
		if missing {
			return nil
		}
		return v.checkFormat(rule, value)
	case ruleInteger:
		if missing {
			return nil
		}
		return checkInteger(rule, value)
	}
	return nil
}

func (v *RecordValidator) checkFormat(rule Rule, value any) *domain.ValidationFailure {
	text, ok := value.(string)
	if !ok {
		if n, isNumber := value.(int64); isNumber && rule.format == FormatPhone {
			text = strconv.FormatInt(n, 10)
		} else {
			return &domain.ValidationFailure{
				Field:     rule.Field,
				ErrorType: ErrorTypeInvalidType,
				Message:   fmt.Sprintf("%s must be a string", rule.Field),
			}
		}
	}
	text = strings.TrimSpace(text)

	var valid bool
	var expected string
	switch rule.format {
	case FormatEmail:
		valid = v.formats.Var(text, "email") == nil
		expected = "a valid email address"
	case FormatURL:
		valid = v.formats.Var(text, "http_url") == nil
		expected = "a valid http(s) URL"
	case FormatWebsite:
		valid = v.formats.Var(text, "http_url|fqdn") == nil
		expected = "a valid URL or domain"
	case FormatPhone:
		valid = validPhone(text)
		expected = "a valid phone number"
	case FormatBartonID:
		valid = v.idPattern == nil || v.idPattern.MatchString(text)
		expected = "a valid unique id"
	default:
		valid = true
	}

	if valid {
		return nil
	}
	return &domain.ValidationFailure{
		Field:     rule.Field,
		ErrorType: ErrorTypeInvalidFormat,
		Message:   fmt.Sprintf("%s must be %s", rule.Field, expected),
	}
}

func checkInteger(rule Rule, value any) *domain.ValidationFailure {
	n, ok := asInteger(value)
	if !ok {
		return &domain.ValidationFailure{
			Field:     rule.Field,
			ErrorType: ErrorTypeInvalidType,
			Message:   fmt.Sprintf("%s must be a whole number", rule.Field),
		}
	}
	if (rule.min != nil && n < *rule.min) || (rule.max != nil && n > *rule.max) {
		var bound string
		switch {
		case rule.min != nil && rule.max != nil:
			bound = fmt.Sprintf("between %d and %d", *rule.min, *rule.max)
		case rule.min != nil:
			bound = fmt.Sprintf(">= %d", *rule.min)
		default:
			bound = fmt.Sprintf("<= %d", *rule.max)
		}
		return &domain.ValidationFailure{
			Field:     rule.Field,
			ErrorType: ErrorTypeOutOfRange,
			Message:   fmt.Sprintf("%s must be %s", rule.Field, bound),
		}
	}
	return nil
}

func asInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		n, err := strconv.ParseInt(cleaned, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func validPhone(text string) bool {
	if !phoneCharset.MatchString(text) {
		return false
	}
	digits := len(nonDigit.ReplaceAllString(text, ""))
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
