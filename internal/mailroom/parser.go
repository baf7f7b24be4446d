package mailroom

import (
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ParsedMail is the subset of an inbound message the intake pipeline needs:
// sender, subject, body, date and a stable identifier.
type ParsedMail struct {
	MessageID string // empty when the source message carries no Message-Id
	From      string
	Subject   string
	Body      string
	Date      time.Time
}

const fallbackSubject = "Email request"

// Parse extracts the ingestion fields from a raw RFC 5322 message. It
// prefers the text/plain part and falls back to text/html when no plain
// part exists.
func Parse(r io.Reader) (*ParsedMail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	header := mr.Header

	froms, err := header.AddressList("From")
	if err != nil || len(froms) == 0 {
		return nil, fmt.Errorf("message has no usable From address")
	}

	parsed := &ParsedMail{
		From:    froms[0].Address,
		Subject: fallbackSubject,
	}
	if subject, err := header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		parsed.Subject = strings.TrimSpace(subject)
	}
	if msgID, err := header.MessageID(); err == nil {
		parsed.MessageID = msgID
	}
	if date, err := header.Date(); err == nil {
		parsed.Date = date
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// keep whatever body parts were already decoded
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			if data, err := io.ReadAll(part.Body); err == nil {
				plain = string(data)
			}
		case strings.HasPrefix(contentType, "text/html") && html == "":
			if data, err := io.ReadAll(part.Body); err == nil {
				html = string(data)
			}
		}
	}

	parsed.Body = plain
	if parsed.Body == "" {
		parsed.Body = html
	}
	return parsed, nil
}
