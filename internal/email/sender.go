package email

import "context"

// Sender is the interface that all email providers must implement.
type Sender interface {
	// Send delivers msg. Any returned error means the message was not sent.
	Send(ctx context.Context, msg Message) error
}

// Message represents an email message to be sent.
type Message struct {
	To       string   // recipient email address
	ToName   string   // recipient display name, optional
	Subject  string   // email subject
	HTMLBody string   // HTML email body
	TextBody string   // plain-text fallback body
	Inline   []Inline // images referenced from HTMLBody as cid:<Name>
}

// Inline is an image embedded in the message body.
type Inline struct {
	Name string
	Data []byte
}
