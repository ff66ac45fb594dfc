// Package roster turns raw sheet rows into attendee records and selects the
// recipients eligible for a confirmation email. Every record keeps the
// absolute sheet row it came from so results can be written back to it.
package roster

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

// ErrNoEligibleRecipients is returned when filtering leaves nobody to email.
var ErrNoEligibleRecipients = errors.New("no eligible recipients found in the spreadsheet")

// Field names a column the workflow depends on.
type Field int

const (
	FieldName Field = iota
	FieldEmail
	FieldEligibility
)

func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldEmail:
		return "email"
	case FieldEligibility:
		return "eligibility"
	default:
		return "unknown"
	}
}

// Schema maps each required Field to its column title in the sheet.
type Schema struct {
	Name        string
	Email       string
	Eligibility string
	// EligibleValue is compared case-insensitively against the trimmed
	// eligibility cell.
	EligibleValue string
}

// DefaultSchema returns the column layout of the registration form.
func DefaultSchema() Schema {
	return Schema{
		Name:          "Name",
		Email:         "Email",
		Eligibility:   "Are you a student at FCIS?",
		EligibleValue: "yes",
	}
}

// Column returns the column title for f.
func (s Schema) Column(f Field) string {
	switch f {
	case FieldName:
		return s.Name
	case FieldEmail:
		return s.Email
	case FieldEligibility:
		return s.Eligibility
	default:
		return ""
	}
}

// Required returns the required column titles in a stable order.
func (s Schema) Required() []string {
	return []string{s.Name, s.Email, s.Eligibility}
}

// Record is one data row keyed by header title.
type Record struct {
	// Row is the 1-based row in the sheet; the header occupies row 1.
	Row    int
	Fields map[string]string
}

// Value returns the cell under column, or "" when absent.
func (r Record) Value(column string) string {
	return r.Fields[column]
}

// Get returns the cell for a required field.
func (r Record) Get(s Schema, f Field) string {
	return r.Fields[s.Column(f)]
}

// MarshalJSON encodes the record as a plain header-to-value object.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// Recipient is an addressee of the confirmation email.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FirstName returns the first whitespace separated token of the name.
func (r Recipient) FirstName() string {
	fields := strings.Fields(r.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Entry pairs a recipient with its originating sheet row. Row is zero when
// the recipient could not be traced back to a row.
type Entry struct {
	Row int `json:"row"`
	Recipient
}

// Project converts data rows to records using header as field names. rows
// must not include the header row. Short rows are padded with "" and cells
// beyond the header are ignored.
func Project(header []string, rows [][]string) []Record {
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		fields := make(map[string]string, len(header))
		for col, title := range header {
			if col < len(row) {
				fields[title] = row[col]
			} else {
				fields[title] = ""
			}
		}
		records = append(records, Record{Row: i + 2, Fields: fields})
	}
	return records
}

// Eligible keeps the records whose eligibility cell matches the schema's
// eligible value and that carry both a name and an email. Order follows the
// sheet.
func Eligible(records []Record, s Schema) ([]Entry, error) {
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(s.EligibleValue))

	var entries []Entry
	for _, rec := range records {
		if fold.String(strings.TrimSpace(rec.Get(s, FieldEligibility))) != want {
			continue
		}

		name := strings.TrimSpace(rec.Get(s, FieldName))
		email := strings.TrimSpace(rec.Get(s, FieldEmail))
		if name == "" || email == "" {
			continue
		}

		entries = append(entries, Entry{
			Row:       rec.Row,
			Recipient: Recipient{Name: name, Email: email},
		})
	}

	if len(entries) == 0 {
		return nil, ErrNoEligibleRecipients
	}
	return entries, nil
}
