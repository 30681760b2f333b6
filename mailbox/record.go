package mailbox

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

/*
 * A mailbox is a single file of records. Each record is a one-line
 * JSON envelope followed by exactly `size` bytes of raw body and a
 * newline:
 *
 *     {"uid":"...","sender":"...","recipients":[...],"received":"...","size":5}
 *     hello
 *
 * The envelope carries the body length, so records survive any body
 * content and a reader can skip from one record to the next without
 * guessing at delimiters.
 */
type envelope struct {
	UID        string    `json:"uid"`
	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients"`
	Received   time.Time `json:"received"`
	Size       int64     `json:"size"`
}

// encodeRecord renders a complete record, envelope and body, ready
// to be appended in a single write.
func encodeRecord(m *Message) ([]byte, error) {
	body, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	env, err := json.Marshal(envelope{
		UID:        m.UID,
		Sender:     m.Sender,
		Recipients: m.Recipients,
		Received:   m.Received,
		Size:       int64(len(body)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	var buf bytes.Buffer
	buf.Grow(len(env) + len(body) + 2)
	buf.Write(env)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// readRecords parses a mailbox file into messages, leaving the bodies
// on disk. A missing file is an empty mailbox.
func readRecords(path string) ([]*Message, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open mailbox file")
	}
	defer f.Close()

	var msgs []*Message
	r := bufio.NewReader(f)
	offset := int64(0)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF && len(line) == 0 {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: record %d", path, len(msgs)+1)
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, errors.Wrapf(err, "%s: record %d envelope", path, len(msgs)+1)
		}
		bodyOffset := offset + int64(len(line))
		if _, err := io.CopyN(io.Discard, r, env.Size+1); err != nil {
			return nil, errors.Wrapf(err, "%s: record %d body", path, len(msgs)+1)
		}
		msgs = append(msgs, &Message{
			UID:        env.UID,
			Sender:     env.Sender,
			Recipients: env.Recipients,
			Received:   env.Received,
			size:       env.Size,
			path:       path,
			offset:     bodyOffset,
		})
		offset = bodyOffset + env.Size + 1
	}
	return msgs, nil
}
