package roster

import "strings"

// Resolve traces recipients back to sheet rows by email for callers that
// did not carry row indices through. Emails are compared trimmed and
// case-insensitively. Each row is claimed at most once and the first
// unclaimed match wins, so repeated emails map to successive rows in sheet
// order. Recipients without a match get Row 0.
func Resolve(records []Record, s Schema, recipients []Recipient) []Entry {
	byEmail := make(map[string][]int)
	for _, rec := range records {
		key := emailKey(rec.Get(s, FieldEmail))
		if key == "" {
			continue
		}
		byEmail[key] = append(byEmail[key], rec.Row)
	}

	entries := make([]Entry, 0, len(recipients))
	for _, r := range recipients {
		entry := Entry{Recipient: r}

		key := emailKey(r.Email)
		if rows := byEmail[key]; len(rows) > 0 {
			entry.Row = rows[0]
			byEmail[key] = rows[1:]
		}

		entries = append(entries, entry)
	}
	return entries
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasEmail reports whether the record's email matches email under the same
// comparison Resolve uses.
func (r Record) HasEmail(s Schema, email string) bool {
	key := emailKey(email)
	return key != "" && emailKey(r.Get(s, FieldEmail)) == key
}
