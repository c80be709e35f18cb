package ingestion

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rpattn/outreach-core/internal/domain"
)

const uniqueIDColumn = "unique_id"

// fieldAliases lists the spreadsheet labels accepted for each payload field,
// compared after normalizeLabel.
var fieldAliases = map[domain.EntityKind]map[string][]string{
	domain.EntityKindCompany: {
		"company_name":   {"company_name", "company", "name", "organization", "organisation", "account_name"},
		"website_url":    {"website_url", "website", "url", "web", "homepage", "domain"},
		"email":          {"email", "email_address", "e_mail", "contact_email"},
		"phone":          {"phone", "phone_number", "telephone", "tel", "main_phone"},
		"linkedin_url":   {"linkedin_url", "linkedin", "linkedin_page", "linkedin_profile"},
		"employee_count": {"employee_count", "employees", "headcount", "num_employees", "number_of_employees"},
		"founded_year":   {"founded_year", "founded", "year_founded", "established"},
	},
	domain.EntityKindPeople: {
		"first_name":        {"first_name", "first", "firstname", "given_name", "forename"},
		"last_name":         {"last_name", "last", "lastname", "surname", "family_name"},
		"email":             {"email", "email_address", "e_mail", "work_email"},
		"phone":             {"phone", "phone_number", "mobile", "telephone", "tel"},
		"linkedin_url":      {"linkedin_url", "linkedin", "linkedin_profile"},
		"company_unique_id": {"company_unique_id", "company_id", "company_barton_id"},
	},
}

var uniqueIDAliases = []string{uniqueIDColumn, "barton_id", "record_id"}

// labelIndex maps a normalised label to its payload field, per kind.
var labelIndex = buildLabelIndex()

func buildLabelIndex() map[domain.EntityKind]map[string]string {
	index := make(map[domain.EntityKind]map[string]string, len(fieldAliases))
	for kind, fields := range fieldAliases {
		lookup := make(map[string]string)
		for field, aliases := range fields {
			for _, alias := range aliases {
				lookup[alias] = field
			}
		}
		for _, alias := range uniqueIDAliases {
			lookup[alias] = uniqueIDColumn
		}
		index[kind] = lookup
	}
	return index
}

// ColumnMapping records where a spreadsheet column lands in the payload.
// Unmapped columns are still imported under their normalised label.
type ColumnMapping struct {
	Column int    `json:"column"`
	Label  string `json:"label"`
	Field  string `json:"field"`
	Mapped bool   `json:"mapped"`
}

// normalizeLabel lowercases a header and joins its alphanumeric runs with
// underscores, so "LinkedIn.URL" and "Linkedin URL" both read "linkedin_url".
func normalizeLabel(label string) string {
	parts := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(parts, "_")
}

// mapColumns resolves a header row against the aliases for kind. The first
// column to claim a field wins; later duplicates and unknown labels stay
// unmapped with a numeric suffix when their key repeats.
func mapColumns(kind domain.EntityKind, header []string) []ColumnMapping {
	lookup := labelIndex[kind]
	taken := make(map[string]int, len(header))
	columns := make([]ColumnMapping, len(header))

	for idx, raw := range header {
		label := strings.TrimSpace(raw)
		key := normalizeLabel(label)
		column := ColumnMapping{Column: idx + 1, Label: label}

		if field, ok := lookup[key]; ok && taken[field] == 0 {
			taken[field]++
			column.Field = field
			column.Mapped = true
			columns[idx] = column
			continue
		}

		if key == "" {
			key = fmt.Sprintf("column_%d", idx+1)
		}
		name := key
		if count := taken[key]; count > 0 {
			name = fmt.Sprintf("%s_%d", key, count+1)
		}
		taken[key]++
		column.Field = name
		columns[idx] = column
	}
	return columns
}

// knownLabels counts the cells of row that name a field for kind.
func knownLabels(kind domain.EntityKind, row []string) int {
	lookup := labelIndex[kind]
	matched := 0
	for _, cell := range row {
		if _, ok := lookup[normalizeLabel(cell)]; ok {
			matched++
		}
	}
	return matched
}

func unmappedLabels(columns []ColumnMapping) []string {
	labels := []string{}
	for _, column := range columns {
		if !column.Mapped {
			labels = append(labels, column.Label)
		}
	}
	return labels
}
