package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func testEvent() Event {
	return Event{
		Name:     "Winter Blender Workshop",
		Subject:  "OSC Blender Workshop Registration Confirmation",
		Date:     "Sunday, 26th of January, 2025",
		Time:     "11:00 AM - 2:00 PM",
		Venue:    "FCIS",
		Location: "Saied Abdulwahab Hall",
		Team:     "The OSC HR Team",
		Notes:    []string{"Arrive 15 minutes before the start time"},
	}
}

func TestRenderConfirmation(t *testing.T) {
	c := NewConfirmation(testEvent(), false)

	msg, err := c.Render(Attendee{Email: "a@x.com", FullName: "Amr Khaled", FirstName: "Amr", Code: "OSC25WW001"})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "Amr Khaled", msg.ToName)
	assert.Equal(t, "OSC Blender Workshop Registration Confirmation", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "Hello <span style=\"color:#ff7f00;\">Amr</span>!")
	assert.Contains(t, msg.HTMLBody, "<strong style=\"color:#ff7f00;\">OSC25WW001</strong>")
	assert.Contains(t, msg.HTMLBody, "Saied Abdulwahab Hall")
	assert.Contains(t, msg.HTMLBody, "<li>Arrive 15 minutes before the start time</li>")
	assert.NotContains(t, msg.HTMLBody, "cid:")
	assert.Contains(t, msg.TextBody, "Your unique attendance code is: OSC25WW001")
	assert.Contains(t, msg.TextBody, "- Arrive 15 minutes before the start time")
	assert.Empty(t, msg.Inline)
}

func TestRenderEscapesAttendeeName(t *testing.T) {
	c := NewConfirmation(testEvent(), false)

	msg, err := c.Render(Attendee{Email: "x@x.com", FirstName: "<script>", Code: "OSC25WW002"})
	require.NoError(t, err)

	assert.NotContains(t, msg.HTMLBody, "<script>")
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")
}

func TestRenderWithQRCode(t *testing.T) {
	c := NewConfirmation(testEvent(), true)

	msg, err := c.Render(Attendee{Email: "a@x.com", FirstName: "Amr", Code: "OSC25WW001"})
	require.NoError(t, err)

	assert.Contains(t, msg.HTMLBody, `src="cid:attendance-qr.png"`)
	require.Len(t, msg.Inline, 1)
	assert.Equal(t, QRImageName, msg.Inline[0].Name)
	assert.True(t, bytes.HasPrefix(msg.Inline[0].Data, []byte("\x89PNG")))
}

func TestComposeMultipart(t *testing.T) {
	msg := Message{
		To:       "a@x.com",
		ToName:   "Amr",
		Subject:  "Hello",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
		Inline:   []Inline{{Name: QRImageName, Data: []byte("png")}},
	}

	var buf bytes.Buffer
	_, err := compose("hr@osc.org", "OSC HR", msg).WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, `From: "OSC HR" <hr@osc.org>`)
	assert.Contains(t, raw, `To: "Amr" <a@x.com>`)
	assert.Contains(t, raw, "Subject: Hello")
	assert.Contains(t, raw, "multipart/related")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "Content-ID: <"+QRImageName+">")
}

func TestNewSMTPSenderValidation(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{SenderAddress: "hr@osc.org"})
	assert.Error(t, err)

	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.osc.org"})
	assert.Error(t, err)

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.osc.org", Port: 465, SSL: true, SenderAddress: "hr@osc.org"})
	require.NoError(t, err)
	assert.True(t, s.dialer.SSL)
}

func TestSMTPSenderHonoursCancelledContext(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, SenderAddress: "hr@osc.org"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Send(ctx, Message{To: "a@x.com", Subject: "s", TextBody: "t"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGmailSenderSend(t *testing.T) {
	var got gmail.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/send"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg-1"}`)
	}))
	defer srv.Close()

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	sender := NewGmailSenderWithService(svc, "hr@osc.org", "OSC HR")
	err = sender.Send(context.Background(), Message{To: "a@x.com", Subject: "Confirmation", TextBody: "hi"})
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(got.Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "To: a@x.com")
	assert.Contains(t, string(raw), "Subject: Confirmation")
}

func TestGmailSenderRequiresConfig(t *testing.T) {
	_, err := NewGmailSender(context.Background(), GmailConfig{SenderAddress: "hr@osc.org"})
	assert.Error(t, err)

	_, err = NewGmailSender(context.Background(), GmailConfig{CredentialsJSON: []byte("{}")})
	assert.Error(t, err)
}
