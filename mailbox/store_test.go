package mailbox

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry map[string]bool

func (r fakeRegistry) Exists(name string) bool {
	return r[name]
}

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(t.TempDir(), fakeRegistry{"joe": true, "bob": true})
	require.NoError(t, err)
	return st
}

func deliver(t *testing.T, st *Store, user, body string) *Message {
	t.Helper()
	m := NewMessage("sender@localhost", []string{user}, []byte(body))
	require.NoError(t, st.Append(user, m))
	return m
}

func TestAppendUnknownUser(t *testing.T) {
	st := testStore(t)
	err := st.Append("nobody", NewMessage("a", []string{"nobody"}, []byte("hi")))
	assert.ErrorIs(t, err, ErrNoSuchUser)
}

func TestAcquireUnknownUser(t *testing.T) {
	st := testStore(t)
	_, err := st.Acquire("nobody")
	assert.ErrorIs(t, err, ErrNoSuchUser)
}

func TestEmptyMailbox(t *testing.T) {
	st := testStore(t)
	h, err := st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()

	count, size := h.Stat()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)
	assert.Empty(t, h.Entries())

	_, err = h.Fetch(1)
	assert.ErrorIs(t, err, ErrNoSuchMessage)
}

func TestAppendAndFetch(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "first body\r\n")
	deliver(t, st, "joe", "second body, a bit longer\r\n")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()

	count, size := h.Stat()
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(len("first body\r\n")+len("second body, a bit longer\r\n")), size)

	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].ID)
	assert.Equal(t, 2, entries[1].ID)

	m, err := h.Fetch(1)
	require.NoError(t, err)
	body, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "first body\r\n", string(body))
	assert.Equal(t, "sender@localhost", m.Sender)
	assert.NotEmpty(t, m.UID)

	m, err = h.Fetch(2)
	require.NoError(t, err)
	body, err = m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "second body, a bit longer\r\n", string(body))
}

func TestBodiesSurviveEnvelopeLookalikes(t *testing.T) {
	st := testStore(t)
	// a body that looks like a record boundary must come back verbatim
	tricky := "{\"uid\":\"fake\",\"size\":999}\n.\r\nplain text\n"
	deliver(t, st, "joe", tricky)
	deliver(t, st, "joe", "after")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()

	entries := h.Entries()
	require.Len(t, entries, 2)
	body, err := entries[0].Msg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, tricky, string(body))
	body, err = entries[1].Msg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "after", string(body))
}

func TestMarksAndReset(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "one")
	deliver(t, st, "joe", "two")
	deliver(t, st, "joe", "three")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.MarkDelete(2))
	assert.ErrorIs(t, h.MarkDelete(2), ErrMessageDeleted)
	assert.ErrorIs(t, h.MarkDelete(5), ErrNoSuchMessage)
	assert.ErrorIs(t, h.MarkDelete(0), ErrNoSuchMessage)

	_, err = h.Fetch(2)
	assert.ErrorIs(t, err, ErrMessageDeleted)

	count, _ := h.Stat()
	assert.Equal(t, 2, count)
	ids := []int{}
	for _, e := range h.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int{1, 3}, ids)

	// reset brings everything back, numbers included
	h.Reset()
	count, _ = h.Stat()
	assert.Equal(t, 3, count)
	_, err = h.Fetch(2)
	assert.NoError(t, err)
}

func TestReleaseKeepsMessages(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "one")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	require.NoError(t, h.MarkDelete(1))
	h.Release()

	h, err = st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()
	count, _ := h.Stat()
	assert.Equal(t, 1, count)
}

func TestCommitRemovesMarked(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "one")
	deliver(t, st, "joe", "two")
	deliver(t, st, "joe", "three")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	require.NoError(t, h.MarkDelete(2))
	require.NoError(t, h.Commit())

	h, err = st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()

	entries := h.Entries()
	require.Len(t, entries, 2)
	// survivors are renumbered contiguously
	assert.Equal(t, 1, entries[0].ID)
	assert.Equal(t, 2, entries[1].ID)
	body, err := entries[0].Msg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "one", string(body))
	body, err = entries[1].Msg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "three", string(body))
}

func TestCommitAll(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "one")
	deliver(t, st, "joe", "two")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	require.NoError(t, h.MarkDelete(1))
	require.NoError(t, h.MarkDelete(2))
	require.NoError(t, h.Commit())

	h, err = st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()
	count, size := h.Stat()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)
}

func TestCommitKeepsConcurrentAppends(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "old")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	require.NoError(t, h.MarkDelete(1))

	// delivery while the box is held for retrieval
	deliver(t, st, "joe", "new")

	require.NoError(t, h.Commit())

	h, err = st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()
	entries := h.Entries()
	require.Len(t, entries, 1)
	body, err := entries[0].Msg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))
}

func TestSessionLock(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "one")

	h1, err := st.Acquire("joe")
	require.NoError(t, err)

	_, err = st.Acquire("joe")
	assert.ErrorIs(t, err, ErrLocked)

	// a different box is not affected
	h2, err := st.Acquire("bob")
	require.NoError(t, err)
	h2.Release()

	h1.Release()
	h3, err := st.Acquire("joe")
	require.NoError(t, err)
	h3.Release()
}

func TestAcquireWait(t *testing.T) {
	st := testStore(t)
	st.WaitTimeout = 2 * time.Second

	h1, err := st.Acquire("joe")
	require.NoError(t, err)
	go func() {
		time.Sleep(100 * time.Millisecond)
		h1.Release()
	}()

	h2, err := st.Acquire("joe")
	require.NoError(t, err)
	h2.Release()
}

func TestAcquireWaitTimeout(t *testing.T) {
	st := testStore(t)
	st.WaitTimeout = 50 * time.Millisecond

	h1, err := st.Acquire("joe")
	require.NoError(t, err)
	defer h1.Release()

	_, err = st.Acquire("joe")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestConcurrentAppends(t *testing.T) {
	st := testStore(t)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("message %d", i)
			st.Append("joe", NewMessage("a", []string{"joe"}, []byte(body)))
		}(i)
	}
	wg.Wait()

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	defer h.Release()

	entries := h.Entries()
	require.Len(t, entries, n)
	seen := map[string]bool{}
	for _, e := range entries {
		body, err := e.Msg.Bytes()
		require.NoError(t, err)
		seen[string(body)] = true
	}
	assert.Len(t, seen, n)
}

func TestCommitThenReleaseIsHarmless(t *testing.T) {
	st := testStore(t)
	deliver(t, st, "joe", "one")

	h, err := st.Acquire("joe")
	require.NoError(t, err)
	require.NoError(t, h.Commit())
	h.Release()
	require.NoError(t, h.Commit())

	// the lock is free again
	h, err = st.Acquire("joe")
	require.NoError(t, err)
	h.Release()
}
