package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// Retriever drives one retrieval session. Unlike the Submitter it
// reports errors per call, since reacting to individual rejections
// is part of how it gets used.
type Retriever struct {
	conn net.Conn
	r    *bufio.Reader
}

// ListEntry is one line of a list reply.
type ListEntry struct {
	ID   int
	Size int64
}

// UidlEntry is one line of a uidl reply.
type UidlEntry struct {
	ID  int
	UID string
}

// DialRetriever connects to a retrieval server and consumes its
// greeting.
func DialRetriever(addr string) (*Retriever, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial retrieval server")
	}
	c := &Retriever{conn: conn, r: bufio.NewReader(conn)}
	if _, err := c.response(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Login authorizes the session and locks the user's maildrop.
func (c *Retriever) Login(user, pass string) error {
	if _, err := c.cmd("USER %s", user); err != nil {
		return err
	}
	_, err := c.cmd("PASS %s", pass)
	return err
}

// Stat returns the message count and total size of the maildrop.
func (c *Retriever) Stat() (int, int64, error) {
	comment, err := c.cmd("STAT")
	if err != nil {
		return 0, 0, err
	}
	var count int
	var size int64
	if _, err := fmt.Sscanf(comment, "%d %d", &count, &size); err != nil {
		return 0, 0, errors.Wrapf(err, "malformed stat reply %q", comment)
	}
	return count, size, nil
}

// List returns the numbers and sizes of all messages.
func (c *Retriever) List() ([]ListEntry, error) {
	if _, err := c.cmd("LIST"); err != nil {
		return nil, err
	}
	lines, err := c.readData()
	if err != nil {
		return nil, err
	}
	var entries []ListEntry
	for _, line := range lines {
		var e ListEntry
		if _, err := fmt.Sscanf(line, "%d %d", &e.ID, &e.Size); err != nil {
			return nil, errors.Wrapf(err, "malformed list entry %q", line)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Uidl returns the numbers and server-assigned identifiers of all
// messages.
func (c *Retriever) Uidl() ([]UidlEntry, error) {
	if _, err := c.cmd("UIDL"); err != nil {
		return nil, err
	}
	lines, err := c.readData()
	if err != nil {
		return nil, err
	}
	var entries []UidlEntry
	for _, line := range lines {
		var e UidlEntry
		if _, err := fmt.Sscanf(line, "%d %s", &e.ID, &e.UID); err != nil {
			return nil, errors.Wrapf(err, "malformed uidl entry %q", line)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Retr fetches one message body.
func (c *Retriever) Retr(id int) ([]byte, error) {
	if _, err := c.cmd("RETR %d", id); err != nil {
		return nil, err
	}
	lines, err := c.readData()
	if err != nil {
		return nil, err
	}
	return []byte(strings.Join(lines, "\r\n")), nil
}

// Top fetches the headers of one message plus at most n lines of
// its body.
func (c *Retriever) Top(id, n int) ([]byte, error) {
	if _, err := c.cmd("TOP %d %d", id, n); err != nil {
		return nil, err
	}
	lines, err := c.readData()
	if err != nil {
		return nil, err
	}
	return []byte(strings.Join(lines, "\r\n")), nil
}

// Dele marks one message for deletion.
func (c *Retriever) Dele(id int) error {
	_, err := c.cmd("DELE %d", id)
	return err
}

// Rset clears all deletion marks.
func (c *Retriever) Rset() error {
	_, err := c.cmd("RSET")
	return err
}

// Quit ends the session, which is what makes the server apply the
// staged deletions, and closes the connection.
func (c *Retriever) Quit() error {
	_, err := c.cmd("QUIT")
	c.conn.Close()
	return err
}

// Close drops the connection without the goodbye, leaving the
// maildrop as it was.
func (c *Retriever) Close() error {
	return c.conn.Close()
}

func (c *Retriever) cmd(format string, args ...interface{}) (string, error) {
	if _, err := fmt.Fprintf(c.conn, format+"\r\n", args...); err != nil {
		return "", errors.Wrap(err, "write command")
	}
	return c.response()
}

// response reads one status line. A server rejection comes back as
// an error carrying the server's comment.
func (c *Retriever) response() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "read reply")
	}
	line = chomp(line)
	switch {
	case line == "+OK":
		return "", nil
	case strings.HasPrefix(line, "+OK "):
		return line[len("+OK "):], nil
	case line == "-ERR":
		return "", errors.New("server: request rejected")
	case strings.HasPrefix(line, "-ERR "):
		return "", errors.Errorf("server: %s", line[len("-ERR "):])
	}
	return "", errors.Errorf("malformed reply %q", line)
}

// readData reads the multiline part of a reply, undoing the
// dot-stuffing.
func (c *Retriever) readData() ([]string, error) {
	var lines []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "read data")
		}
		line = chomp(line)
		if line == "." {
			return lines, nil
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		lines = append(lines, line)
	}
}
