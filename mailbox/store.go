/*
 * Mailbox store, one records file per user under a spool directory.
 *
 * Appends and retrieval sessions take different locks. An append
 * only needs the file mutex for the duration of a single write, so
 * delivery keeps working while a mailbox is open for retrieval. A
 * retrieval session holds the box for its whole lifetime and is
 * exclusive with other sessions on the same box.
 */
package mailbox

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNoSuchUser     = errors.New("no such user")
	ErrLocked         = errors.New("mailbox is locked")
	ErrNoSuchMessage  = errors.New("no such message")
	ErrMessageDeleted = errors.New("message already deleted")
)

// Registry is the part of the user directory the store relies on: it
// decides which names have mailboxes at all.
type Registry interface {
	Exists(name string) bool
}

type Store struct {
	dir   string
	users Registry

	// WaitTimeout bounds how long Acquire waits for a busy mailbox.
	// Zero means fail immediately.
	WaitTimeout time.Duration

	mu    sync.Mutex
	boxes map[string]*box
}

type box struct {
	path string

	// fmu serializes file access: appends, snapshot reads and the
	// commit rewrite.
	fmu sync.Mutex

	// sema, of capacity one, is the retrieval session lock.
	sema chan struct{}
}

// NewStore opens a store over the given spool directory, creating it
// if needed.
func NewStore(dir string, users Registry) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create spool directory")
	}
	return &Store{
		dir:   dir,
		users: users,
		boxes: make(map[string]*box),
	}, nil
}

func (st *Store) box(user string) *box {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.boxes[user]
	if !ok {
		b = &box{
			path: filepath.Join(st.dir, user+".mbox"),
			sema: make(chan struct{}, 1),
		}
		st.boxes[user] = b
	}
	return b
}

// Append stores a message in the user's mailbox. The whole record
// goes out in one write, so a session holding the box will see either
// the complete message or nothing.
func (st *Store) Append(user string, m *Message) error {
	if !st.users.Exists(user) {
		return ErrNoSuchUser
	}
	rec, err := encodeRecord(m)
	if err != nil {
		return err
	}
	b := st.box(user)
	b.fmu.Lock()
	defer b.fmu.Unlock()

	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return errors.Wrap(err, "open mailbox file")
	}
	if _, err := f.Write(rec); err != nil {
		f.Close()
		return errors.Wrapf(err, "append to mailbox %s", user)
	}
	return errors.Wrap(f.Close(), "close mailbox file")
}

// Acquire starts a retrieval session on the user's mailbox and
// returns a handle over a snapshot of its contents. A mailbox held
// by another session yields ErrLocked, after waiting up to
// WaitTimeout for it to free up.
func (st *Store) Acquire(user string) (*Handle, error) {
	if !st.users.Exists(user) {
		return nil, ErrNoSuchUser
	}
	b := st.box(user)
	select {
	case b.sema <- struct{}{}:
	default:
		if st.WaitTimeout <= 0 {
			return nil, ErrLocked
		}
		select {
		case b.sema <- struct{}{}:
		case <-time.After(st.WaitTimeout):
			return nil, ErrLocked
		}
	}

	b.fmu.Lock()
	msgs, err := readRecords(b.path)
	b.fmu.Unlock()
	if err != nil {
		<-b.sema
		return nil, err
	}
	return &Handle{
		user:  user,
		box:   b,
		msgs:  msgs,
		marks: make(map[int]bool),
	}, nil
}
