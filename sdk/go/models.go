package automailer

// Recipient is an eligible attendee. Row is the sheet row it came from, or
// zero when unknown.
type Recipient struct {
	Row   int    `json:"row,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProcessResponse is returned by POST /process-spreadsheet.
type ProcessResponse struct {
	// Rows holds every data row keyed by header title.
	Rows           []map[string]string `json:"rows"`
	UniqueIDColumn int                 `json:"uniqueIdColumn"`
	Recipients     []Recipient         `json:"recipients"`
}

// SendRequest is the body of POST /send-emails.
type SendRequest struct {
	Recipients     []Recipient `json:"recipients"`
	SpreadsheetID  string      `json:"spreadsheetId"`
	UniqueIDColumn int         `json:"uniqueIdColumn"`
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Sequence  int    `json:"sequence"`
	Row       int    `json:"row,omitempty"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Succeeded reports whether the email was delivered.
func (o Outcome) Succeeded() bool {
	return o.Status == "success"
}

// SendResult summarizes a mailing run.
type SendResult struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Results    []Outcome `json:"results"`
}

// VerifyResponse is returned by POST /verify-attendance.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}
