package mailbox

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

// Handle is one retrieval session's view of a mailbox. Message
// numbers are fixed at acquire time and deletions stay marks until
// Commit makes them real. Either Commit or Release must be called
// exactly once; both free the session lock.
type Handle struct {
	user  string
	box   *box
	msgs  []*Message
	marks map[int]bool
	done  bool
}

// Entry pairs a message with its session-scoped number.
type Entry struct {
	ID  int
	Msg *Message
}

func (h *Handle) User() string {
	return h.user
}

// Stat returns the number of messages and their total size, not
// counting those marked for deletion.
func (h *Handle) Stat() (count int, size int64) {
	for i, m := range h.msgs {
		if h.marks[i+1] {
			continue
		}
		count++
		size += m.Size()
	}
	return count, size
}

// Entries lists the messages not marked for deletion.
func (h *Handle) Entries() []Entry {
	list := make([]Entry, 0, len(h.msgs))
	for i, m := range h.msgs {
		if h.marks[i+1] {
			continue
		}
		list = append(list, Entry{ID: i + 1, Msg: m})
	}
	return list
}

// Fetch returns the message with the given number.
func (h *Handle) Fetch(id int) (*Message, error) {
	if id < 1 || id > len(h.msgs) {
		return nil, ErrNoSuchMessage
	}
	if h.marks[id] {
		return nil, ErrMessageDeleted
	}
	return h.msgs[id-1], nil
}

// MarkDelete marks the message with the given number for deletion.
func (h *Handle) MarkDelete(id int) error {
	if id < 1 || id > len(h.msgs) {
		return ErrNoSuchMessage
	}
	if h.marks[id] {
		return ErrMessageDeleted
	}
	h.marks[id] = true
	return nil
}

// Reset clears all deletion marks.
func (h *Handle) Reset() {
	for id := range h.marks {
		delete(h.marks, id)
	}
}

// Release ends the session discarding all marks.
func (h *Handle) Release() {
	if h.done {
		return
	}
	h.release()
}

func (h *Handle) release() {
	h.done = true
	<-h.box.sema
}

// Commit ends the session removing the marked messages from the
// mailbox. The new mailbox file is written out completely and then
// swapped in place of the old one, so a crash leaves either the old
// contents or the new, never a torn file. Messages appended since
// the session started are carried over untouched.
func (h *Handle) Commit() error {
	if h.done {
		return nil
	}
	defer h.release()
	if len(h.marks) == 0 {
		return nil
	}

	dead := make(map[string]bool, len(h.marks))
	for id := range h.marks {
		dead[h.msgs[id-1].UID] = true
	}

	h.box.fmu.Lock()
	defer h.box.fmu.Unlock()

	cur, err := readRecords(h.box.path)
	if err != nil {
		return err
	}
	tmp := h.box.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "create mailbox rewrite file")
	}
	w := bufio.NewWriter(f)
	for _, m := range cur {
		if dead[m.UID] {
			continue
		}
		rec, err := encodeRecord(m)
		if err == nil {
			_, err = w.Write(rec)
		}
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return errors.Wrapf(err, "rewrite mailbox %s", h.user)
		}
	}
	err = w.Flush()
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "rewrite mailbox %s", h.user)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rewrite mailbox %s", h.user)
	}
	if err := os.Rename(tmp, h.box.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "swap in mailbox %s", h.user)
	}
	return nil
}
