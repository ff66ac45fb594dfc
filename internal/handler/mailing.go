package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/oscmail/automailer/internal/roster"
	"github.com/oscmail/automailer/internal/service"
	"github.com/oscmail/automailer/internal/sheet"
)

// ProcessSpreadsheetResponse is returned by POST /process-spreadsheet
type ProcessSpreadsheetResponse struct {
	Rows           []roster.Record `json:"rows"`
	UniqueIDColumn int             `json:"uniqueIdColumn"`
	Recipients     []roster.Entry  `json:"recipients"`
}

// ProcessSpreadsheet handles POST /process-spreadsheet
// Reads the sheet, ensures the tracking column and lists eligible recipients.
func (h *Handler) ProcessSpreadsheet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		// The UI sends the raw spreadsheet ID under this name
		SpreadsheetURL string `json:"spreadsheetUrl"`
	}
	if err := readJSON(r, &req); err != nil || req.SpreadsheetURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_spreadsheet_id", "Invalid spreadsheet ID")
		return
	}

	res, err := h.mailer.ProcessSpreadsheet(r.Context(), req.SpreadsheetURL)
	if err != nil {
		var schemaErr *sheet.SchemaError
		switch {
		case errors.Is(err, service.ErrInvalidSpreadsheetID):
			writeError(w, http.StatusBadRequest, "invalid_spreadsheet_id", "Invalid spreadsheet ID")
		case errors.Is(err, sheet.ErrEmpty):
			writeError(w, http.StatusBadRequest, "empty_spreadsheet", "No data found in spreadsheet")
		case errors.Is(err, sheet.ErrRangeTooNarrow):
			writeError(w, http.StatusBadRequest, "range_too_narrow",
				"The tracking column does not fit in the configured sheet range")
		case errors.As(err, &schemaErr):
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:          "Missing required columns: " + strings.Join(schemaErr.Missing, ", "),
				Code:           "missing_columns",
				MissingColumns: schemaErr.Missing,
			})
		case errors.Is(err, sheet.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "Spreadsheet not found or not accessible")
		case errors.Is(err, sheet.ErrAccessDenied):
			writeError(w, http.StatusForbidden, "access_denied",
				"Access denied. Please share the spreadsheet with the service account email: "+h.mailer.ServiceAccount())
		case errors.Is(err, service.ErrRunInProgress):
			writeError(w, http.StatusConflict, "run_in_progress", "A mailing run is in progress for this spreadsheet")
		default:
			h.log.Error().Err(err).Str("spreadsheet_id", req.SpreadsheetURL).Msg("failed to process spreadsheet")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process spreadsheet")
		}
		return
	}

	writeJSON(w, http.StatusOK, ProcessSpreadsheetResponse{
		Rows:           res.Records,
		UniqueIDColumn: res.TrackingColumn,
		Recipients:     res.Recipients,
	})
}

// SendEmails handles POST /send-emails
// Dispatches one confirmation per recipient and returns per-recipient outcomes.
func (h *Handler) SendEmails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipients []struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Row   int    `json:"row,omitempty"`
		} `json:"recipients"`
		SpreadsheetID  string `json:"spreadsheetId"`
		UniqueIDColumn int    `json:"uniqueIdColumn"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	sendReq := service.SendRequest{
		SpreadsheetID:  req.SpreadsheetID,
		TrackingColumn: req.UniqueIDColumn,
		Recipients:     make([]service.SendRecipient, len(req.Recipients)),
	}
	for i, rcpt := range req.Recipients {
		sendReq.Recipients[i] = service.SendRecipient{Name: rcpt.Name, Email: rcpt.Email, Row: rcpt.Row}
	}

	res, err := h.mailer.SendEmails(r.Context(), sendReq)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSpreadsheetID):
			writeError(w, http.StatusBadRequest, "invalid_spreadsheet_id", "Invalid spreadsheet ID")
		case errors.Is(err, service.ErrNoRecipients):
			writeError(w, http.StatusBadRequest, "no_recipients", "No recipients provided")
		case errors.Is(err, service.ErrRunInProgress):
			writeError(w, http.StatusConflict, "run_in_progress", "A mailing run is already in progress for this spreadsheet")
		default:
			h.log.Error().Err(err).Str("spreadsheet_id", req.SpreadsheetID).Msg("failed to send emails")
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:   "Failed to send emails",
				Code:    "internal_error",
				Details: err.Error(),
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// VerifyAttendanceResponse is returned by POST /verify-attendance
type VerifyAttendanceResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// VerifyAttendance handles POST /verify-attendance
// Checks the shape of an attendance code.
func (h *Handler) VerifyAttendance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.mailer.VerifyAttendance(req.Code); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_code", "Invalid attendance code format")
		return
	}

	writeJSON(w, http.StatusOK, VerifyAttendanceResponse{
		Valid:   true,
		Message: "Attendance code verified successfully",
		Code:    req.Code,
	})
}
