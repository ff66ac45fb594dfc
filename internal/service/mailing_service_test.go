package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/database"
	"github.com/oscmail/automailer/internal/dispatch"
	"github.com/oscmail/automailer/internal/logger"
	"github.com/oscmail/automailer/internal/roster"
	"github.com/oscmail/automailer/internal/sheet"
)

// fakeSheets keeps a table in memory and applies the real normalization.
type fakeSheets struct {
	header    []string
	rows      [][]string
	readErr   error
	writeErr  error
	reads     int
	headerPut int
	written   map[int]string
	column    int
}

func (f *fakeSheets) Read(ctx context.Context, h sheet.Handle) (*sheet.Table, error) {
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.rows) == 0 {
		return nil, sheet.ErrEmpty
	}
	return &sheet.Table{Header: append([]string{}, f.header...), Rows: f.rows}, nil
}

func (f *fakeSheets) Normalize(ctx context.Context, h sheet.Handle, t *sheet.Table, tracking string, required []string) (int, error) {
	col, appended := sheet.EnsureColumn(&t.Header, tracking)
	if appended {
		f.headerPut++
		f.header = append([]string{}, t.Header...)
	}
	if err := sheet.Validate(t.Header, required); err != nil {
		return 0, err
	}
	return col, nil
}

func (f *fakeSheets) WriteCodes(ctx context.Context, h sheet.Handle, column int, codes map[int]string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.column = column
	f.written = codes
	return nil
}

func (f *fakeSheets) ServiceAccount() string {
	return "mailer@osc.iam.gserviceaccount.com"
}

// fakeDispatcher fails the addresses listed in fail.
type fakeDispatcher struct {
	fail map[string]bool
	got  []roster.Entry
}

func (d *fakeDispatcher) Prefix() string { return "OSC25WW" }

func (d *fakeDispatcher) Run(ctx context.Context, entries []roster.Entry) *dispatch.Result {
	d.got = entries
	res := &dispatch.Result{Assignments: map[int]string{}}
	for i, e := range entries {
		out := dispatch.Outcome{Sequence: i + 1, Row: e.Row, Email: e.Email, Name: e.Name}
		if d.fail[e.Email] {
			out.Status = dispatch.StatusFailed
			out.Error = "send failed"
			res.Failed++
		} else {
			out.Status = dispatch.StatusSuccess
			out.Code = dispatch.Code(d.Prefix(), i+1)
			res.Successful++
			if e.Row > 0 {
				res.Assignments[e.Row] = out.Code
			}
		}
		res.Results = append(res.Results, out)
	}
	res.Total = len(res.Results)
	return res
}

// slowDispatcher holds the run open for delay before sending.
type slowDispatcher struct {
	fakeDispatcher
	delay time.Duration
}

func (d *slowDispatcher) Run(ctx context.Context, entries []roster.Entry) *dispatch.Result {
	time.Sleep(d.delay)
	return d.fakeDispatcher.Run(ctx, entries)
}

type fakeLocker struct {
	held     map[string]bool
	acquired int
	renewed  int
	released int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return "", database.ErrLockHeld
	}
	l.held[key] = true
	l.acquired++
	return "token", nil
}

func (l *fakeLocker) RenewLock(ctx context.Context, key, token string, ttl time.Duration) error {
	l.renewed++
	return nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	delete(l.held, key)
	l.released++
	return nil
}

type lease struct {
	token   string
	expires time.Time
}

// leaseLocker expires locks on the clock like Redis does.
type leaseLocker struct {
	mu      sync.Mutex
	leases  map[string]lease
	seq     int
	renewed int
}

func newLeaseLocker() *leaseLocker {
	return &leaseLocker{leases: map[string]lease{}}
}

func (l *leaseLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && time.Now().Before(cur.expires) {
		return "", database.ErrLockHeld
	}
	l.seq++
	token := fmt.Sprintf("token-%d", l.seq)
	l.leases[key] = lease{token: token, expires: time.Now().Add(ttl)}
	return token, nil
}

func (l *leaseLocker) RenewLock(ctx context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[key]
	if !ok || cur.token != token || !time.Now().Before(cur.expires) {
		return database.ErrLockLost
	}
	l.leases[key] = lease{token: token, expires: time.Now().Add(ttl)}
	l.renewed++
	return nil
}

func (l *leaseLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}

func (l *leaseLocker) state() (renewed, held int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.renewed, len(l.leases)
}

func testConfig() *config.Config {
	return &config.Config{
		Sheet: config.SheetConfig{
			Range:             "A:ZZ",
			TrackingColumn:    "Unique ID",
			NameColumn:        "Name",
			EmailColumn:       "Email",
			EligibilityColumn: "Are you a student at FCIS?",
			EligibleValue:     "yes",
		},
		Attendance: config.AttendanceConfig{CodePattern: `^OSCWW\d{3}$`},
	}
}

func newService(t *testing.T, sheets *fakeSheets, d *fakeDispatcher, l *fakeLocker) *MailingService {
	t.Helper()
	svc, err := NewMailingService(sheets, d, l, testConfig(), logger.Nop())
	require.NoError(t, err)
	return svc
}

func formSheet() *fakeSheets {
	return &fakeSheets{
		header: []string{"Name", "Email", "Are you a student at FCIS?"},
		rows: [][]string{
			{"Amr", "a@x.com", "Yes"},
			{"Sara", "s@x.com", "No"},
		},
	}
}

func TestValidateSpreadsheetID(t *testing.T) {
	id, err := ValidateSpreadsheetID("  1AbC-d_9  ")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-d_9", id)

	for _, bad := range []string{"", "   ", "https://docs.google.com/spreadsheets/d/x", "a b", "id;drop"} {
		_, err := ValidateSpreadsheetID(bad)
		assert.ErrorIs(t, err, ErrInvalidSpreadsheetID, bad)
	}
}

func TestProcessSpreadsheet(t *testing.T) {
	sheets := formSheet()
	locker := &fakeLocker{}
	svc := newService(t, sheets, &fakeDispatcher{}, locker)

	res, err := svc.ProcessSpreadsheet(context.Background(), "sheet-1")
	require.NoError(t, err)

	assert.Equal(t, 4, res.TrackingColumn)
	assert.Equal(t, 1, sheets.headerPut)
	assert.Equal(t, 1, locker.acquired, "header append runs under the sheet lock")
	assert.Equal(t, 1, locker.released)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "", res.Records[0].Value("Unique ID"))
	assert.Equal(t, []roster.Entry{{Row: 2, Recipient: roster.Recipient{Name: "Amr", Email: "a@x.com"}}}, res.Recipients)

	// Already normalized: no second header write and no lock
	res, err = svc.ProcessSpreadsheet(context.Background(), "sheet-1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.TrackingColumn)
	assert.Equal(t, 1, sheets.headerPut)
	assert.Equal(t, 1, locker.acquired)
}

func TestProcessSpreadsheetMissingColumns(t *testing.T) {
	sheets := &fakeSheets{
		header: []string{"Name", "Are you a student at FCIS?"},
		rows:   [][]string{{"Amr", "Yes"}},
	}
	svc := newService(t, sheets, &fakeDispatcher{}, &fakeLocker{})

	_, err := svc.ProcessSpreadsheet(context.Background(), "sheet-1")

	var schemaErr *sheet.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"Email"}, schemaErr.Missing)
}

func TestProcessSpreadsheetErrors(t *testing.T) {
	svc := newService(t, &fakeSheets{readErr: sheet.ErrNotFound}, &fakeDispatcher{}, &fakeLocker{})
	_, err := svc.ProcessSpreadsheet(context.Background(), "sheet-1")
	assert.ErrorIs(t, err, sheet.ErrNotFound)

	svc = newService(t, &fakeSheets{header: []string{"Name"}}, &fakeDispatcher{}, &fakeLocker{})
	_, err = svc.ProcessSpreadsheet(context.Background(), "sheet-1")
	assert.ErrorIs(t, err, sheet.ErrEmpty)

	_, err = svc.ProcessSpreadsheet(context.Background(), "not a sheet id")
	assert.ErrorIs(t, err, ErrInvalidSpreadsheetID)
}

func TestProcessSpreadsheetLockedDuringRun(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{lockPrefix + "sheet-1": true}}
	svc := newService(t, formSheet(), &fakeDispatcher{}, locker)

	_, err := svc.ProcessSpreadsheet(context.Background(), "sheet-1")
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestProcessSpreadsheetNoEligible(t *testing.T) {
	sheets := formSheet()
	sheets.rows = [][]string{{"Sara", "s@x.com", "No"}}
	svc := newService(t, sheets, &fakeDispatcher{}, &fakeLocker{})

	res, err := svc.ProcessSpreadsheet(context.Background(), "sheet-1")
	require.NoError(t, err)
	assert.NotNil(t, res.Recipients)
	assert.Empty(t, res.Recipients)
}

func TestSendEmailsWithExplicitRows(t *testing.T) {
	sheets := formSheet()
	sheets.rows = append(sheets.rows,
		[]string{"Bob", "b@x.com", "Yes"},
		[]string{"Cid", "C@x.com", "Yes"},
	)
	d := &fakeDispatcher{fail: map[string]bool{"b@x.com": true}}
	svc := newService(t, sheets, d, &fakeLocker{})

	res, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID:  "sheet-1",
		TrackingColumn: 4,
		Recipients: []SendRecipient{
			{Name: "Amr", Email: "a@x.com", Row: 2},
			{Name: "Bob", Email: "b@x.com", Row: 4},
			{Name: "Cid", Email: "c@x.com", Row: 5},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, sheets.reads, "explicit rows are checked against the sheet")
	assert.Equal(t, 4, sheets.column)
	assert.Equal(t, map[int]string{2: "OSC25WW001", 5: "OSC25WW003"}, sheets.written)
}

func TestSendEmailsRejectsMismatchedRows(t *testing.T) {
	sheets := formSheet()
	d := &fakeDispatcher{}
	svc := newService(t, sheets, d, &fakeLocker{})

	res, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID:  "sheet-1",
		TrackingColumn: 4,
		Recipients: []SendRecipient{
			{Name: "Mallory", Email: "m@x.com", Row: 3},
			{Name: "Amr", Email: "a@x.com", Row: 9},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 0, d.got[0].Row, "a row owned by another email is not taken")
	assert.Equal(t, 2, d.got[1].Row, "a missing row falls back to the email lookup")
	assert.Equal(t, map[int]string{2: "OSC25WW002"}, sheets.written)
}

func TestSendEmailsResolvesMissingRowsByEmail(t *testing.T) {
	sheets := &fakeSheets{
		header: []string{"Name", "Email", "Are you a student at FCIS?", "Unique ID"},
		rows: [][]string{
			{"Amr", "a@x.com", "Yes"},
			{"Sara", "s@x.com", "Yes"},
			{"Amr twin", "a@x.com", "Yes"},
		},
	}
	d := &fakeDispatcher{}
	svc := newService(t, sheets, d, &fakeLocker{})

	res, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID: "sheet-1",
		Recipients: []SendRecipient{
			{Name: "Amr", Email: "a@x.com"},
			{Name: "Ghost", Email: "ghost@x.com"},
			{Name: "Amr twin", Email: "a@x.com"},
			{Name: "Sara", Email: "s@x.com", Row: 3},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Successful)
	assert.Equal(t, 1, sheets.reads)
	assert.Equal(t, 4, sheets.column, "tracking column resolved from header")
	assert.Equal(t, []int{2, 0, 4, 3}, []int{d.got[0].Row, d.got[1].Row, d.got[2].Row, d.got[3].Row})
	assert.Equal(t, map[int]string{2: "OSC25WW001", 4: "OSC25WW003", 3: "OSC25WW004"}, sheets.written)
}

func TestSendEmailsDuplicateRowClaimedOnce(t *testing.T) {
	sheets := formSheet()
	d := &fakeDispatcher{}
	svc := newService(t, sheets, d, &fakeLocker{})

	_, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID:  "sheet-1",
		TrackingColumn: 4,
		Recipients: []SendRecipient{
			{Name: "Amr", Email: "a@x.com", Row: 2},
			{Name: "Amr", Email: "a@x.com", Row: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, d.got[0].Row)
	assert.Equal(t, 0, d.got[1].Row)
	assert.Equal(t, map[int]string{2: "OSC25WW001"}, sheets.written)
}

func TestSendEmailsWriteBackFailureIsSwallowed(t *testing.T) {
	sheets := formSheet()
	sheets.writeErr = errors.New("quota exceeded")
	svc := newService(t, sheets, &fakeDispatcher{}, &fakeLocker{})

	res, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID:  "sheet-1",
		TrackingColumn: 4,
		Recipients:     []SendRecipient{{Name: "Amr", Email: "a@x.com", Row: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
}

func TestSendEmailsReadFailureAbortsBeforeDispatch(t *testing.T) {
	d := &fakeDispatcher{}
	svc := newService(t, &fakeSheets{readErr: sheet.ErrAccessDenied}, d, &fakeLocker{})

	_, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID: "sheet-1",
		Recipients:    []SendRecipient{{Name: "Amr", Email: "a@x.com"}},
	})
	assert.ErrorIs(t, err, sheet.ErrAccessDenied)
	assert.Nil(t, d.got)
}

func TestSendEmailsValidation(t *testing.T) {
	svc := newService(t, formSheet(), &fakeDispatcher{}, &fakeLocker{})

	_, err := svc.SendEmails(context.Background(), SendRequest{SpreadsheetID: "sheet-1"})
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID: "",
		Recipients:    []SendRecipient{{Name: "Amr", Email: "a@x.com"}},
	})
	assert.ErrorIs(t, err, ErrInvalidSpreadsheetID)
}

func TestSendEmailsRunInProgress(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{lockPrefix + "sheet-1": true}}
	d := &fakeDispatcher{}
	svc := newService(t, formSheet(), d, locker)

	_, err := svc.SendEmails(context.Background(), SendRequest{
		SpreadsheetID: "sheet-1",
		Recipients:    []SendRecipient{{Name: "Amr", Email: "a@x.com", Row: 2}},
	})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, d.got)
}

func TestSendEmailsKeepsLockPastTTL(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Sheet.LockTTL = 50 * time.Millisecond
	locker := newLeaseLocker()
	d := &slowDispatcher{delay: 150 * time.Millisecond}
	svc, err := NewMailingService(formSheet(), d, locker, cfg, logger.Nop())
	require.NoError(t, err)

	req := SendRequest{
		SpreadsheetID:  "sheet-1",
		TrackingColumn: 4,
		Recipients:     []SendRecipient{{Name: "Amr", Email: "a@x.com", Row: 2}},
	}

	first := make(chan error, 1)
	go func() {
		_, err := svc.SendEmails(context.Background(), req)
		first <- err
	}()

	time.Sleep(100 * time.Millisecond)
	_, err = svc.SendEmails(context.Background(), req)
	assert.ErrorIs(t, err, ErrRunInProgress, "the first run still owns the sheet")

	require.NoError(t, <-first)
	renewed, held := locker.state()
	assert.Positive(t, renewed)
	assert.Zero(t, held, "lock released once the run ends")
}

func TestSendEmailsIgnoresCallerCancellation(t *testing.T) {
	sheets := formSheet()
	svc := newService(t, sheets, &fakeDispatcher{}, &fakeLocker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.SendEmails(ctx, SendRequest{
		SpreadsheetID:  "sheet-1",
		TrackingColumn: 4,
		Recipients:     []SendRecipient{{Name: "Amr", Email: "a@x.com", Row: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
}

func TestVerifyAttendance(t *testing.T) {
	svc := newService(t, formSheet(), &fakeDispatcher{}, &fakeLocker{})

	assert.NoError(t, svc.VerifyAttendance("OSCWW001"))
	assert.ErrorIs(t, svc.VerifyAttendance("OSCWW01"), ErrInvalidCode)
	assert.ErrorIs(t, svc.VerifyAttendance("OSC25WW001"), ErrInvalidCode, "generated prefix differs from the verify pattern by default")
	assert.ErrorIs(t, svc.VerifyAttendance(" OSCWW001"), ErrInvalidCode)
}

func TestNewMailingServiceRejectsBadPattern(t *testing.T) {
	cfg := testConfig()
	cfg.Attendance.CodePattern = "("

	_, err := NewMailingService(formSheet(), &fakeDispatcher{}, &fakeLocker{}, cfg, logger.Nop())
	assert.Error(t, err)
}
