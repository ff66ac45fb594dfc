package email

import (
	"io"

	"github.com/go-gomail/gomail"
)

// compose builds the MIME message shared by every transport.
func compose(fromAddress, fromName string, msg Message) *gomail.Message {
	m := gomail.NewMessage()

	m.SetAddressHeader("From", fromAddress, fromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	for _, img := range msg.Inline {
		data := img.Data
		m.Embed(img.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	return m
}
