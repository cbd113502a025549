package pubsub

import (
	"fmt"
	"strings"
	"time"

	uuid "github.com/nu7hatch/gouuid"
)

// MessageIDHeader is the header or attribute name providers use to carry
// the message ID alongside the payload.
const MessageIDHeader = "mq-message-id"

// Message is a single text message.
type Message struct {
	ID          string
	Destination Destination
	Timestamp   time.Time
	Text        string
}

// NewTextMessage will create an unsent message carrying text.
func NewTextMessage(text string) *Message {
	return &Message{Text: text}
}

// Stamp will prepare a message for sending to dest: it sets the
// destination and timestamp and assigns an ID if the message has none.
func Stamp(m *Message, dest Destination) error {
	if m.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		m.ID = "ID:" + strings.Replace(id.String(), "-", "", -1)
	}
	m.Destination = dest
	m.Timestamp = time.Now()
	return nil
}

// String will render the message headers and body on separate lines.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString("  TextMessage\n")
	fmt.Fprintf(&b, "  ID:          %s\n", m.ID)
	fmt.Fprintf(&b, "  Destination: %s\n", m.Destination)
	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&b, "  Timestamp:   %s\n", m.Timestamp.Format(time.RFC3339Nano))
	}
	b.WriteString(m.Text)
	return b.String()
}
