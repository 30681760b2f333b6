package client

import (
	"bufio"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
 * The fakes below speak just enough of each protocol to exercise the
 * client's reply parsing and data framing.
 */

func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
		conn.Close()
	}()
	return ln.Addr().String()
}

func TestSubmitterSend(t *testing.T) {
	got := make(chan []string, 1)
	addr := fakeServer(t, func(conn net.Conn) {
		var lines []string
		r := bufio.NewReader(conn)
		readLine := func() string {
			line, _ := r.ReadString('\n')
			line = chomp(line)
			lines = append(lines, line)
			return line
		}
		fmt.Fprint(conn, "220 fake ready\r\n")
		readLine() // HELO
		fmt.Fprint(conn, "250 Go ahead\r\n")
		readLine() // MAIL
		fmt.Fprint(conn, "250 OK\r\n")
		readLine() // RCPT
		fmt.Fprint(conn, "250 Recipient OK\r\n")
		readLine() // DATA
		fmt.Fprint(conn, "354 go\r\n")
		for readLine() != "." {
		}
		fmt.Fprint(conn, "250 OK\r\n")
		readLine() // QUIT
		fmt.Fprint(conn, "221 bye\r\n")
		got <- lines
	})

	c, err := DialSubmitter(addr)
	require.NoError(t, err)
	require.NoError(t, c.Helo("tester"))
	require.NoError(t, c.Send("a@localhost", []string{"b@localhost"}, []byte(".leading dot\r\nplain\r\n")))
	require.NoError(t, c.Quit())

	lines := <-got
	assert.Equal(t, []string{
		"HELO tester",
		"MAIL FROM:<a@localhost>",
		"RCPT TO:<b@localhost>",
		"DATA",
		"..leading dot",
		"plain",
		".",
		"QUIT",
	}, lines)
}

func TestSubmitterEhlo(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		fmt.Fprint(conn, "220 fake ready\r\n")
		r.ReadString('\n')
		fmt.Fprint(conn, "250-Hello, tester\r\n250-HELP\r\n250 AUTH PLAIN\r\n")
		r.ReadString('\n')
		fmt.Fprint(conn, "221 bye\r\n")
	})

	c, err := DialSubmitter(addr)
	require.NoError(t, err)
	exts, err := c.Ehlo("tester")
	require.NoError(t, err)
	assert.Equal(t, []string{"HELP", "AUTH PLAIN"}, exts)
	require.NoError(t, c.Quit())
}

func TestSubmitterRejection(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		fmt.Fprint(conn, "220 fake ready\r\n")
		r.ReadString('\n')
		fmt.Fprint(conn, "250 Go ahead\r\n")
		r.ReadString('\n')
		fmt.Fprint(conn, "550 Unknown recipient\r\n")
	})

	c, err := DialSubmitter(addr)
	require.NoError(t, err)
	require.NoError(t, c.Helo("tester"))
	err = c.Send("a@localhost", []string{"nobody@localhost"}, []byte("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")

	// the error is latched
	assert.Error(t, c.Helo("tester"))
	assert.Equal(t, err, c.Err())
}

func TestRetrieverSession(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		next := func() string {
			line, _ := r.ReadString('\n')
			return chomp(line)
		}
		fmt.Fprint(conn, "+OK POP3 server ready\r\n")
		next() // USER
		fmt.Fprint(conn, "+OK joe is a valid mailbox\r\n")
		next() // PASS
		fmt.Fprint(conn, "+OK Maildrop locked and ready\r\n")
		next() // STAT
		fmt.Fprint(conn, "+OK 2 52\r\n")
		next() // LIST
		fmt.Fprint(conn, "+OK List follows\r\n1 20\r\n2 32\r\n.\r\n")
		next() // RETR 1
		fmt.Fprint(conn, "+OK 20 octets\r\n..stuffed\r\nplain\r\n\r\n.\r\n")
		next() // DELE 1
		fmt.Fprint(conn, "+OK message 1 deleted\r\n")
		next() // RSET
		fmt.Fprint(conn, "+OK maildrop has 2 messages\r\n")
		next() // QUIT
		fmt.Fprint(conn, "+OK POP3 server signing off\r\n")
	})

	c, err := DialRetriever(addr)
	require.NoError(t, err)
	require.NoError(t, c.Login("joe", "123"))

	count, size, err := c.Stat()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(52), size)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []ListEntry{{1, 20}, {2, 32}}, entries)

	body, err := c.Retr(1)
	require.NoError(t, err)
	assert.Equal(t, ".stuffed\r\nplain\r\n", string(body))

	require.NoError(t, c.Dele(1))
	require.NoError(t, c.Rset())
	require.NoError(t, c.Quit())
}

func TestRetrieverRejection(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		fmt.Fprint(conn, "+OK POP3 server ready\r\n")
		r.ReadString('\n')
		fmt.Fprint(conn, "+OK joe is a valid mailbox\r\n")
		r.ReadString('\n')
		fmt.Fprint(conn, "-ERR unable to lock maildrop\r\n")
	})

	c, err := DialRetriever(addr)
	require.NoError(t, err)
	err = c.Login("joe", "123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to lock maildrop")
}

func TestChomp(t *testing.T) {
	assert.Equal(t, "abc", chomp("abc\r\n"))
	assert.Equal(t, "abc", chomp("abc\n"))
	assert.Equal(t, "abc\r", chomp("abc\r\r\n"))
	assert.Equal(t, "", chomp("\r\n"))
}

func TestRetrieverKeepsTrailingBlankLines(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		fmt.Fprint(conn, "+OK ready\r\n")
		r.ReadString('\n')
		// a body that ends with a blank line
		fmt.Fprint(conn, "+OK 9 octets\r\nhi\r\n\r\n\r\n.\r\n")
	})

	c, err := DialRetriever(addr)
	require.NoError(t, err)
	body, err := c.Retr(1)
	require.NoError(t, err)
	assert.Equal(t, "hi\r\n\r\n", string(body))
}
