package mailbox

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Message is one mail record: the envelope recorded at submission
// time plus the body exactly as it came off the wire.
type Message struct {
	UID        string
	Sender     string
	Recipients []string
	Received   time.Time

	size int64

	/*
	 * Before the record is stored the body lives in memory. After a
	 * mailbox is read back, only the body's location within the
	 * records file is kept and Bytes reads it on demand.
	 */
	body   []byte
	path   string
	offset int64
}

// NewMessage assembles a record for delivery, stamping it with a
// fresh identifier and the current time.
func NewMessage(sender string, recipients []string, body []byte) *Message {
	return &Message{
		UID:        uuid.NewString(),
		Sender:     sender,
		Recipients: recipients,
		Received:   time.Now().UTC(),
		size:       int64(len(body)),
		body:       body,
	}
}

func (m *Message) Size() int64 {
	return m.size
}

// Bytes returns the message body.
func (m *Message) Bytes() ([]byte, error) {
	if m.path == "" {
		return m.body, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return nil, errors.Wrap(err, "open mailbox file")
	}
	defer f.Close()
	buf := make([]byte, m.size)
	if _, err := f.ReadAt(buf, m.offset); err != nil {
		return nil, errors.Wrapf(err, "read message %s", m.UID)
	}
	return buf, nil
}
