// Package dispatch runs the sequential confirmation email loop.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/oscmail/automailer/internal/email"
	"github.com/oscmail/automailer/internal/logger"
	"github.com/oscmail/automailer/internal/metrics"
	"github.com/oscmail/automailer/internal/roster"
)

// Status is the result of one dispatch attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome records one dispatch attempt.
type Outcome struct {
	Sequence  int    `json:"sequence"`
	Row       int    `json:"row,omitempty"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Result summarizes a run. Assignments maps sheet rows to the codes that
// were delivered and holds successes only.
type Result struct {
	Total       int            `json:"total"`
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	Results     []Outcome      `json:"results"`
	Assignments map[int]string `json:"-"`
}

// Code derives the attendance code for a 1-based dispatch sequence number.
func Code(prefix string, seq int) string {
	return fmt.Sprintf("%s%03d", prefix, seq)
}

// Renderer builds the message for one attendee.
type Renderer interface {
	Render(a email.Attendee) (email.Message, error)
}

// Dispatcher sends one confirmation per recipient, in order, one at a time.
type Dispatcher struct {
	sender   email.Sender
	renderer Renderer
	prefix   string
	log      *logger.Logger
	now      func() time.Time
}

// New creates a Dispatcher issuing codes with the given prefix.
func New(sender email.Sender, renderer Renderer, prefix string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		renderer: renderer,
		prefix:   prefix,
		log:      log.WithComponent("dispatch"),
		now:      time.Now,
	}
}

// Prefix returns the code prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Run attempts delivery to every entry. A failure is recorded and the loop
// moves on; it never stops early. Entries with Row 0 are emailed but get no
// assignment.
func (d *Dispatcher) Run(ctx context.Context, entries []roster.Entry) *Result {
	start := d.now()
	defer func() {
		metrics.DispatchDuration.Observe(d.now().Sub(start).Seconds())
	}()

	res := &Result{
		Results:     make([]Outcome, 0, len(entries)),
		Assignments: make(map[int]string),
	}

	for i, entry := range entries {
		seq := i + 1
		code := Code(d.prefix, seq)

		out := Outcome{
			Sequence: seq,
			Row:      entry.Row,
			Email:    entry.Email,
			Name:     entry.Name,
		}

		err := d.send(ctx, entry.Recipient, code)
		if err != nil {
			out.Status = StatusFailed
			out.Error = err.Error()
			res.Failed++
		} else {
			out.Status = StatusSuccess
			out.Code = code
			res.Successful++
			if entry.Row > 0 {
				res.Assignments[entry.Row] = code
			}
		}
		out.Timestamp = d.now().UTC().Format(time.RFC3339)

		metrics.EmailsTotal.WithLabelValues(string(out.Status)).Inc()
		d.log.Dispatch(seq, entry.Row, entry.Email, string(out.Status), out.Code, err)

		res.Results = append(res.Results, out)
	}

	res.Total = len(res.Results)
	return res
}

func (d *Dispatcher) send(ctx context.Context, r roster.Recipient, code string) error {
	msg, err := d.renderer.Render(email.Attendee{
		Email:     r.Email,
		FullName:  r.Name,
		FirstName: r.FirstName(),
		Code:      code,
	})
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}
