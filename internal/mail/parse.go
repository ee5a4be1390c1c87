package mail

import (
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// ErrParse is returned when a payload cannot be decoded as a mail structure
// at all. Transactions failing this way are rejected, never retried.
var ErrParse = errors.New("malformed message")

// Parse converts a raw message payload into a Record. The envelope sender and
// recipient are copied verbatim; the message's own From/To headers are not
// authoritative for routing. The timestamp is assigned here, never taken from
// the headers, which are spoofable.
func Parse(from, to string, r io.Reader) (*Record, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	subject, err := entity.Header.Text("Subject")
	if err != nil {
		// Undecodable encoded-words fall back to the raw header value.
		subject = entity.Header.Get("Subject")
	}

	var body bodyParts
	body.collect(entity)

	text := body.plain
	if text == "" && body.html != "" {
		text = stripHTML(body.html)
	}

	return &Record{
		From:      from,
		To:        to,
		Subject:   subject,
		Text:      strings.TrimSpace(text),
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// bodyParts accumulates the first plain-text and first HTML part found while
// walking the MIME tree depth-first.
type bodyParts struct {
	plain string
	html  string
}

func (b *bodyParts) collect(entity *message.Entity) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			} else if err != nil && !message.IsUnknownCharset(err) {
				// A broken part does not invalidate siblings already read.
				break
			}
			b.collect(part)
			if b.plain != "" {
				return
			}
		}
		return
	}

	mediaType, _, err := entity.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	switch mediaType {
	case "text/plain":
		if b.plain == "" {
			if content, err := io.ReadAll(entity.Body); err == nil {
				b.plain = string(content)
			}
		}
	case "text/html":
		if b.html == "" {
			if content, err := io.ReadAll(entity.Body); err == nil {
				b.html = string(content)
			}
		}
	}
}

var (
	htmlBlocks = regexp.MustCompile(`(?is)<(script|style|head)\b.*?</(script|style|head)>`)
	htmlBreaks = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	htmlTags   = regexp.MustCompile(`<[^>]*>`)
	blankRuns  = regexp.MustCompile(`[ \t]+`)
)

// stripHTML produces a textual approximation of an HTML body for messages
// that carry no plain-text part.
func stripHTML(s string) string {
	s = htmlBlocks.ReplaceAllString(s, "")
	s = htmlBreaks.ReplaceAllString(s, "\n")
	s = htmlTags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(blankRuns.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
