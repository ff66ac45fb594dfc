package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// QRImageName is the inline image name the HTML template references.
const QRImageName = "attendance-qr.png"

// Event is the static event metadata rendered into every confirmation.
type Event struct {
	Name     string
	Subject  string
	Date     string
	Time     string
	Venue    string
	Location string
	Team     string
	Notes    []string
}

// Attendee is the per-recipient part of a confirmation.
type Attendee struct {
	Email     string
	FullName  string
	FirstName string
	Code      string
}

type confirmationData struct {
	Event
	Attendee
	QRCode bool
}

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Event.Name}} Registration</title>
</head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;background-color:#f4f4f4;margin:0;padding:20px;">
<div style="max-width:600px;margin:0 auto;background-color:#ffffff;padding:30px;border-radius:5px;box-shadow:0 2px 5px rgba(0,0,0,0.1);">
  <h1 style="color:#2c3e50;border-bottom:2px solid #ff7f00;padding-bottom:10px;">Hello <span style="color:#ff7f00;">{{.FirstName}}</span>!</h1>
  <p>Thank you for registering for the {{.Event.Name}}. This email confirms that we've received your registration.</p>
  <div style="background-color:#f8f9fa;border-left:4px solid #ff7f00;padding:15px;margin:20px 0;">
    <h2 style="color:#2c3e50;margin-top:0;font-size:1.2em;">Event Details</h2>
    {{- if .Event.Date}}<p style="margin:5px 0;"><strong>Date:</strong> {{.Event.Date}}</p>{{end}}
    {{- if .Event.Time}}<p style="margin:5px 0;"><strong>Time:</strong> {{.Event.Time}}</p>{{end}}
    {{- if .Event.Venue}}<p style="margin:5px 0;"><strong>Venue:</strong> {{.Event.Venue}}</p>{{end}}
    {{- if .Event.Location}}<p style="margin:5px 0;"><strong>Location:</strong> {{.Event.Location}}</p>{{end}}
  </div>
  <div style="background-color:#fff5e6;border:1px solid #ff7f00;border-radius:4px;padding:10px;margin:20px 0;font-size:18px;">
    Your unique attendance code is: <strong style="color:#ff7f00;">{{.Code}}</strong>
    {{- if .QRCode}}
    <div style="text-align:center;margin-top:10px;"><img src="cid:attendance-qr.png" alt="{{.Code}}" width="160" height="160"></div>
    {{- end}}
  </div>
  {{- if .Event.Notes}}
  <p style="font-weight:bold;color:#e74c3c;">Please note:</p>
  <ul>
    {{- range .Event.Notes}}
    <li>{{.}}</li>
    {{- end}}
  </ul>
  {{- end}}
  <div style="margin-top:30px;border-top:1px solid #eee;padding-top:20px;">
    <p>Best regards,</p>
    <p style="color:#ff7f00;">{{.Event.Team}}</p>
  </div>
</div>
</body>
</html>`))

var confirmationText = texttemplate.Must(texttemplate.New("confirmation").Parse(`Hello {{.FirstName}}!

Thank you for registering for the {{.Event.Name}}. This email confirms that we've received your registration.

Event Details
{{- if .Event.Date}}
Date: {{.Event.Date}}{{end}}
{{- if .Event.Time}}
Time: {{.Event.Time}}{{end}}
{{- if .Event.Venue}}
Venue: {{.Event.Venue}}{{end}}
{{- if .Event.Location}}
Location: {{.Event.Location}}{{end}}

Your unique attendance code is: {{.Code}}
{{- if .Event.Notes}}

Please note:
{{- range .Event.Notes}}
- {{.}}
{{- end}}
{{- end}}

Best regards,
{{.Event.Team}}
`))

// Confirmation renders registration confirmation emails for one event.
type Confirmation struct {
	event  Event
	qrCode bool
}

// NewConfirmation creates a Confirmation. When qrCode is set the attendance
// code is also embedded as a QR image.
func NewConfirmation(event Event, qrCode bool) *Confirmation {
	return &Confirmation{event: event, qrCode: qrCode}
}

// Render builds the confirmation message for a.
func (c *Confirmation) Render(a Attendee) (Message, error) {
	data := confirmationData{Event: c.event, Attendee: a, QRCode: c.qrCode}

	var html, text bytes.Buffer
	if err := confirmationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render HTML body: %w", err)
	}
	if err := confirmationText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("failed to render text body: %w", err)
	}

	msg := Message{
		To:       a.Email,
		ToName:   a.FullName,
		Subject:  c.event.Subject,
		HTMLBody: html.String(),
		TextBody: text.String(),
	}

	if c.qrCode {
		png, err := QRCode(a.Code)
		if err != nil {
			return Message{}, err
		}
		msg.Inline = []Inline{{Name: QRImageName, Data: png}}
	}

	return msg, nil
}
