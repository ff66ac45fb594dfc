package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/database"
	"github.com/oscmail/automailer/internal/dispatch"
	"github.com/oscmail/automailer/internal/logger"
	"github.com/oscmail/automailer/internal/metrics"
	"github.com/oscmail/automailer/internal/roster"
	"github.com/oscmail/automailer/internal/sheet"
)

// Mailing errors
var (
	ErrInvalidSpreadsheetID = errors.New("invalid spreadsheet ID")
	ErrNoRecipients         = errors.New("no recipients provided")
	ErrRunInProgress        = errors.New("a mailing run is already in progress for this spreadsheet")
	ErrInvalidCode          = errors.New("invalid attendance code format")
)

const lockPrefix = "automailer:lock:"

var spreadsheetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SheetStore reads and writes the attendee spreadsheet.
type SheetStore interface {
	Read(ctx context.Context, h sheet.Handle) (*sheet.Table, error)
	Normalize(ctx context.Context, h sheet.Handle, t *sheet.Table, tracking string, required []string) (int, error)
	WriteCodes(ctx context.Context, h sheet.Handle, column int, codes map[int]string) error
	ServiceAccount() string
}

// Dispatcher runs the email loop.
type Dispatcher interface {
	Run(ctx context.Context, entries []roster.Entry) *dispatch.Result
	Prefix() string
}

// Locker serializes runs per spreadsheet. Locks expire after ttl unless
// renewed.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	RenewLock(ctx context.Context, key, token string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key, token string) error
}

// ProcessResult is the normalized view of a spreadsheet.
type ProcessResult struct {
	Records        []roster.Record
	TrackingColumn int
	Recipients     []roster.Entry
}

// SendRecipient is a recipient as submitted by a client. Row is optional.
type SendRecipient struct {
	Name  string
	Email string
	Row   int
}

// SendRequest describes one mailing run.
type SendRequest struct {
	SpreadsheetID  string
	TrackingColumn int
	Recipients     []SendRecipient
}

// MailingService reads attendees, dispatches confirmations and records the
// issued codes.
type MailingService struct {
	sheets      SheetStore
	dispatcher  Dispatcher
	locker      Locker
	schema      roster.Schema
	tracking    string
	sheetRange  string
	lockTTL     time.Duration
	codePattern *regexp.Regexp
	log         *logger.Logger
}

// NewMailingService creates a new MailingService.
func NewMailingService(sheets SheetStore, dispatcher Dispatcher, locker Locker, cfg *config.Config, log *logger.Logger) (*MailingService, error) {
	pattern, err := regexp.Compile(cfg.Attendance.CodePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid attendance code pattern: %w", err)
	}

	lockTTL := cfg.Sheet.LockTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}

	s := &MailingService{
		sheets:     sheets,
		dispatcher: dispatcher,
		locker:     locker,
		schema: roster.Schema{
			Name:          cfg.Sheet.NameColumn,
			Email:         cfg.Sheet.EmailColumn,
			Eligibility:   cfg.Sheet.EligibilityColumn,
			EligibleValue: cfg.Sheet.EligibleValue,
		},
		tracking:    cfg.Sheet.TrackingColumn,
		sheetRange:  cfg.Sheet.Range,
		lockTTL:     lockTTL,
		codePattern: pattern,
		log:         log.WithComponent("mailing"),
	}

	// The verification pattern and the code prefix are configured apart.
	// Flag a mismatch instead of guessing which one is right.
	if sample := dispatch.Code(dispatcher.Prefix(), 1); !pattern.MatchString(sample) {
		s.log.Warn().
			Str("sample_code", sample).
			Str("pattern", pattern.String()).
			Msg("generated attendance codes do not match the verification pattern")
	}

	return s, nil
}

// ValidateSpreadsheetID trims raw and checks it looks like a sheet ID.
func ValidateSpreadsheetID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if !spreadsheetIDPattern.MatchString(id) {
		return "", ErrInvalidSpreadsheetID
	}
	return id, nil
}

// ProcessSpreadsheet reads the sheet, makes sure the tracking column exists,
// validates the required columns and selects the eligible recipients. An
// empty recipient list is not an error here; the caller decides.
func (s *MailingService) ProcessSpreadsheet(ctx context.Context, rawID string) (*ProcessResult, error) {
	id, err := ValidateSpreadsheetID(rawID)
	if err != nil {
		return nil, err
	}
	h := s.handle(id)
	log := s.log.WithSpreadsheet(id)

	table, err := s.sheets.Read(ctx, h)
	if err != nil {
		return nil, err
	}

	col := sheet.IndexOf(table.Header, s.tracking)
	if col == 0 {
		// Appending the column writes the header row; serialize that with
		// running sends and re-read under the lock.
		err = s.withLock(ctx, id, func() error {
			table, err = s.sheets.Read(ctx, h)
			if err != nil {
				return err
			}
			col, err = s.sheets.Normalize(ctx, h, table, s.tracking, s.schema.Required())
			return err
		})
	} else {
		col, err = s.sheets.Normalize(ctx, h, table, s.tracking, s.schema.Required())
	}
	if err != nil {
		return nil, err
	}

	records := roster.Project(table.Header, table.Rows)
	entries, err := roster.Eligible(records, s.schema)
	if err != nil && !errors.Is(err, roster.ErrNoEligibleRecipients) {
		return nil, err
	}

	log.Info().
		Int("rows", len(records)).
		Int("eligible", len(entries)).
		Int("tracking_column", col).
		Msg("spreadsheet processed")

	if entries == nil {
		entries = []roster.Entry{}
	}

	return &ProcessResult{
		Records:        records,
		TrackingColumn: col,
		Recipients:     entries,
	}, nil
}

// SendEmails runs one dispatch loop and writes the issued codes back. Once
// started, the run is not cancelled by the caller's context. Write-back
// failures are logged and never returned.
func (s *MailingService) SendEmails(ctx context.Context, req SendRequest) (*dispatch.Result, error) {
	id, err := ValidateSpreadsheetID(req.SpreadsheetID)
	if err != nil {
		return nil, err
	}
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	h := s.handle(id)
	log := s.log.WithSpreadsheet(id)

	var result *dispatch.Result
	err = s.withLock(ctx, id, func() error {
		ctx := context.WithoutCancel(ctx)

		entries, col, err := s.resolve(ctx, h, req)
		if err != nil {
			return err
		}

		result = s.dispatcher.Run(ctx, entries)
		s.writeBack(ctx, h, col, result.Assignments, log)
		return nil
	})
	if err != nil {
		metrics.RunsTotal.WithLabelValues("aborted").Inc()
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	log.Info().
		Int("total", result.Total).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("mailing run completed")

	return result, nil
}

// VerifyAttendance checks the shape of an attendance code. No registry of
// issued codes is consulted.
func (s *MailingService) VerifyAttendance(code string) error {
	if !s.codePattern.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}

// resolve turns the request into dispatch entries. A submitted row is kept
// when the sheet still has that row under the same email and no earlier
// recipient claimed it; everyone else is traced back through the sheet by
// email.
func (s *MailingService) resolve(ctx context.Context, h sheet.Handle, req SendRequest) ([]roster.Entry, int, error) {
	table, err := s.sheets.Read(ctx, h)
	if err != nil {
		return nil, 0, err
	}

	col := req.TrackingColumn
	if col <= 0 {
		col = sheet.IndexOf(table.Header, s.tracking)
	}

	all := roster.Project(table.Header, table.Rows)
	byRow := make(map[int]roster.Record, len(all))
	for _, rec := range all {
		byRow[rec.Row] = rec
	}

	entries := make([]roster.Entry, len(req.Recipients))
	claimed := make(map[int]bool, len(req.Recipients))

	var pending []int
	for i, r := range req.Recipients {
		entries[i].Recipient = roster.Recipient{
			Name:  strings.TrimSpace(r.Name),
			Email: strings.TrimSpace(r.Email),
		}
		if rec, ok := byRow[r.Row]; ok && !claimed[r.Row] && rec.HasEmail(s.schema, r.Email) {
			entries[i].Row = r.Row
			claimed[r.Row] = true
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return entries, col, nil
	}

	// Rows already taken by explicit indices are not offered again
	var records []roster.Record
	for _, rec := range all {
		if !claimed[rec.Row] {
			records = append(records, rec)
		}
	}

	lookup := make([]roster.Recipient, len(pending))
	for j, i := range pending {
		lookup[j] = entries[i].Recipient
	}
	for j, resolved := range roster.Resolve(records, s.schema, lookup) {
		entries[pending[j]].Row = resolved.Row
	}

	return entries, col, nil
}

func (s *MailingService) writeBack(ctx context.Context, h sheet.Handle, col int, codes map[int]string, log *logger.Logger) {
	if len(codes) == 0 {
		return
	}
	if col <= 0 {
		log.Warn().Int("codes", len(codes)).Msg("tracking column unknown, codes not written back")
		metrics.SheetWritesTotal.WithLabelValues("skipped").Inc()
		return
	}

	if err := s.sheets.WriteCodes(ctx, h, col, codes); err != nil {
		log.Error().Err(err).Int("codes", len(codes)).Msg("failed to write codes back to spreadsheet")
		metrics.SheetWritesTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.SheetWritesTotal.WithLabelValues("success").Inc()
}

func (s *MailingService) withLock(ctx context.Context, id string, fn func() error) error {
	key := lockPrefix + id

	token, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			return ErrRunInProgress
		}
		return err
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go s.keepLock(context.WithoutCancel(ctx), id, key, token, done, stopped)

	defer func() {
		close(done)
		<-stopped
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn().Err(err).Str("spreadsheet_id", id).Msg("failed to release run lock")
		}
	}()

	return fn()
}

// keepLock renews the lease every third of its TTL until done is closed, so
// a run longer than the TTL keeps the sheet to itself.
func (s *MailingService) keepLock(ctx context.Context, id, key, token string, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := s.locker.RenewLock(ctx, key, token, s.lockTTL)
			switch {
			case err == nil:
			case errors.Is(err, database.ErrLockLost):
				s.log.Error().Str("spreadsheet_id", id).Msg("run lock lost, concurrent runs are no longer excluded")
				return
			default:
				// Transient; the next tick retries while the lease lasts
				s.log.Warn().Err(err).Str("spreadsheet_id", id).Msg("failed to renew run lock")
			}
		}
	}
}

// ServiceAccount returns the identity spreadsheets must be shared with.
func (s *MailingService) ServiceAccount() string {
	return s.sheets.ServiceAccount()
}

func (s *MailingService) handle(id string) sheet.Handle {
	return sheet.Handle{SpreadsheetID: id, Range: s.sheetRange}
}
