// Package sheet reads attendee tables from Google Sheets, keeps the tracking
// column in place and writes generated codes back.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheet errors
var (
	ErrNotFound       = errors.New("spreadsheet not found or not accessible")
	ErrAccessDenied   = errors.New("access to spreadsheet denied")
	ErrEmpty          = errors.New("no data found in spreadsheet")
	ErrRangeTooNarrow = errors.New("tracking column falls outside the configured range")
)

// SchemaError reports every required column missing from the header row.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// valueInputRaw stores values exactly as given, with no formula parsing.
const valueInputRaw = "RAW"

// Handle identifies a block of cells in a spreadsheet.
type Handle struct {
	SpreadsheetID string
	// Range is an A1 range, optionally prefixed by a sheet name ("Form!A:ZZ").
	Range string
}

// sheetPrefix returns the "Sheet!" part of the range, if any.
func (h Handle) sheetPrefix() string {
	if i := strings.LastIndex(h.Range, "!"); i >= 0 {
		return h.Range[:i+1]
	}
	return ""
}

// lastColumn returns the 1-based right edge of the range, or 0 when the range
// has none.
func (h Handle) lastColumn() int {
	rng := h.Range[len(h.sheetPrefix()):]
	i := strings.LastIndex(rng, ":")
	if i < 0 {
		return 0
	}
	n, err := excelize.ColumnNameToNumber(strings.TrimRight(rng[i+1:], "0123456789"))
	if err != nil {
		return 0
	}
	return n
}

// Table is the raw content of a Handle: the first row and the rest.
type Table struct {
	Header []string
	Rows   [][]string
}

// Client talks to the Sheets API.
type Client struct {
	svc            *sheets.Service
	serviceAccount string
}

// NewClient creates a Client authenticated as the given service account.
func NewClient(ctx context.Context, serviceAccountJSON []byte) (*Client, error) {
	jwtConfig, err := google.JWTConfigFromJSON(serviceAccountJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to parse credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to create service: %w", err)
	}

	return &Client{svc: svc, serviceAccount: jwtConfig.Email}, nil
}

// NewClientWithService wraps an already configured service.
func NewClientWithService(svc *sheets.Service, serviceAccount string) *Client {
	return &Client{svc: svc, serviceAccount: serviceAccount}
}

// ServiceAccount returns the identity spreadsheets must be shared with.
func (c *Client) ServiceAccount() string {
	return c.serviceAccount
}

// Read fetches the cells of h. The first row is always the header. A sheet
// with no data rows fails with ErrEmpty.
func (c *Client) Read(ctx context.Context, h Handle) (*Table, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(h.SpreadsheetID, h.Range).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Values) < 2 {
		return nil, ErrEmpty
	}

	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellString(v)
		}
		rows[i] = cells
	}

	return &Table{Header: rows[0], Rows: rows[1:]}, nil
}

// Normalize makes sure the tracking column exists, persisting the header row
// when it had to be appended, and then checks the required columns. It
// returns the 1-based position of the tracking column. A header that fills
// the range may hide the column, so appending past the range's right edge
// fails with ErrRangeTooNarrow.
func (c *Client) Normalize(ctx context.Context, h Handle, t *Table, tracking string, required []string) (int, error) {
	col, appended := EnsureColumn(&t.Header, tracking)
	if appended {
		if last := h.lastColumn(); last > 0 && col > last {
			return 0, fmt.Errorf("%w: %q would be column %d, range %q ends at %d", ErrRangeTooNarrow, tracking, col, h.Range, last)
		}
		if err := c.writeHeader(ctx, h, t.Header); err != nil {
			return 0, err
		}
	}

	if err := Validate(t.Header, required); err != nil {
		return 0, err
	}
	return col, nil
}

func (c *Client) writeHeader(ctx context.Context, h Handle, header []string) error {
	last, err := ColumnName(len(header))
	if err != nil {
		return err
	}

	values := make([]interface{}, len(header))
	for i, title := range header {
		values[i] = title
	}

	rng := fmt.Sprintf("%sA1:%s1", h.sheetPrefix(), last)
	_, err = c.svc.Spreadsheets.Values.Update(h.SpreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write header row: %w", classify(err))
	}
	return nil
}

// WriteCodes writes each code into the tracking column of its row using one
// batched update. codes maps 1-based sheet rows to values.
func (c *Client) WriteCodes(ctx context.Context, h Handle, column int, codes map[int]string) error {
	if len(codes) == 0 {
		return nil
	}

	letter, err := ColumnName(column)
	if err != nil {
		return err
	}

	rows := make([]int, 0, len(codes))
	for row := range codes {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	data := make([]*sheets.ValueRange, 0, len(rows))
	for _, row := range rows {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s%s%d", h.sheetPrefix(), letter, row),
			Values: [][]interface{}{{codes[row]}},
		})
	}

	_, err = c.svc.Spreadsheets.Values.BatchUpdate(h.SpreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputRaw,
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write codes: %w", classify(err))
	}
	return nil
}

// EnsureColumn appends title to header unless already present and returns
// its 1-based position. Existing columns never move.
func EnsureColumn(header *[]string, title string) (int, bool) {
	for i, h := range *header {
		if h == title {
			return i + 1, false
		}
	}
	*header = append(*header, title)
	return len(*header), true
}

// Validate returns a *SchemaError naming every required title absent from
// header. Titles match exactly.
func Validate(header []string, required []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	var missing []string
	for _, r := range required {
		if !present[r] {
			missing = append(missing, r)
		}
	}

	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// ColumnName converts a 1-based column number to its A1 letters.
func ColumnName(column int) (string, error) {
	name, err := excelize.ColumnNumberToName(column)
	if err != nil {
		return "", fmt.Errorf("invalid column %d: %w", column, err)
	}
	return name, nil
}

// IndexOf returns the 1-based position of title in header, or 0.
func IndexOf(header []string, title string) int {
	for i, h := range header {
		if h == title {
			return i + 1
		}
	}
	return 0
}

func cellString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}
	return err
}
