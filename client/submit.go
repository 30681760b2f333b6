/*
 * Client side of the mail pair: a Submitter posts messages over the
 * submission protocol, a Retriever reads them back over the
 * retrieval protocol.
 */
package client

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"
)

// Submitter drives the submission side of a mail exchange. The first
// failure latches: later calls turn into no-ops and return the
// original cause.
type Submitter struct {
	conn net.Conn
	r    *bufio.Reader
	err  error
}

// DialSubmitter connects to a submission server and consumes its
// greeting.
func DialSubmitter(addr string) (*Submitter, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial submission server")
	}
	c := &Submitter{conn: conn, r: bufio.NewReader(conn)}
	c.expect(220)
	if c.err != nil {
		conn.Close()
		return nil, c.err
	}
	return c, nil
}

// Err returns the first error the session ran into, if any.
func (c *Submitter) Err() error {
	return c.err
}

// Helo introduces the client to the server.
func (c *Submitter) Helo(host string) error {
	c.writeLine("HELO %s", host)
	c.expect(250)
	return c.err
}

// Ehlo introduces the client and returns the server's extension
// list, one line per extension.
func (c *Submitter) Ehlo(host string) ([]string, error) {
	c.writeLine("EHLO %s", host)
	lines := c.expect(250)
	if c.err != nil {
		return nil, c.err
	}
	return lines[1:], nil
}

// Auth logs in with the PLAIN mechanism.
func (c *Submitter) Auth(user, pass string) error {
	if c.err != nil {
		return c.err
	}
	mech, ir, err := sasl.NewPlainClient("", user, pass).Start()
	if err != nil {
		c.err = errors.Wrap(err, "start auth")
		return c.err
	}
	c.writeLine("AUTH %s %s", mech, base64.StdEncoding.EncodeToString(ir))
	c.expect(235)
	return c.err
}

// Send runs one full mail transaction. The body goes out as CRLF
// lines with the usual dot-stuffing; a body without a trailing line
// break gains one on the wire.
func (c *Submitter) Send(from string, to []string, body []byte) error {
	c.writeLine("MAIL FROM:<%s>", from)
	c.expect(250)
	for _, rcpt := range to {
		c.writeLine("RCPT TO:<%s>", rcpt)
		c.expect(250)
	}
	c.writeLine("DATA")
	c.expect(354)

	lines := strings.Split(string(body), "\r\n")
	// A trailing CRLF yields an empty last element; the line ending
	// it stands for is supplied by the terminator line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		c.writeLine("%s", line)
	}
	c.writeLine(".")
	c.expect(250)
	return c.err
}

// Quit says the protocol goodbye and closes the connection.
func (c *Submitter) Quit() error {
	c.writeLine("QUIT")
	c.expect(221)
	c.conn.Close()
	return c.err
}

// Close drops the connection without the goodbye.
func (c *Submitter) Close() error {
	return c.conn.Close()
}

func (c *Submitter) writeLine(format string, args ...interface{}) {
	if c.err != nil {
		return
	}
	if _, err := fmt.Fprintf(c.conn, format+"\r\n", args...); err != nil {
		c.err = errors.Wrap(err, "write command")
	}
}

// expect reads one reply, which may span several lines, and checks
// its status code. The reply's lines are returned with the code
// prefixes stripped.
func (c *Submitter) expect(code int) []string {
	if c.err != nil {
		return nil
	}
	var lines []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.err = errors.Wrap(err, "read reply")
			return nil
		}
		line = chomp(line)
		if len(line) < 3 {
			c.err = errors.Errorf("malformed reply %q", line)
			return nil
		}
		got, err := strconv.Atoi(line[:3])
		if err != nil {
			c.err = errors.Errorf("malformed reply %q", line)
			return nil
		}
		if got != code {
			c.err = errors.Errorf("expected %d, got %q", code, line)
			return nil
		}
		rest := ""
		if len(line) > 4 {
			rest = line[4:]
		}
		lines = append(lines, rest)
		if len(line) == 3 || line[3] != '-' {
			return lines
		}
	}
}

// chomp cuts exactly one line ending off.
func chomp(line string) string {
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}
