package pop

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

type readWriter struct {
	writer io.Writer
	reader *bufio.Reader
	log    *logrus.Entry
}

func newReadWriter(c io.ReadWriter, log *logrus.Entry) *readWriter {
	return &readWriter{
		writer: c,
		reader: bufio.NewReader(c),
		log:    log,
	}
}

func (rw *readWriter) ReadLine() (string, error) {
	line, err := rw.reader.ReadString('\n')
	if err != nil {
		return line, err
	}
	rw.log.Debugf("<- %q", line)
	return line, nil
}

// OK sends a success response with an optional comment.
func (rw *readWriter) OK(comment string, args ...interface{}) {
	if comment != "" {
		rw.Send("+OK " + fmt.Sprintf(comment, args...))
	} else {
		rw.Send("+OK")
	}
}

// Err sends an error response with an optional comment.
func (rw *readWriter) Err(comment string) {
	if comment != "" {
		rw.Send("-ERR " + comment)
	} else {
		rw.Send("-ERR")
	}
}

// Send sends one line.
func (rw *readWriter) Send(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	rw.log.Debugf("-> %s", line)
	fmt.Fprintf(rw.writer, "%s\r\n", line)
}

// SendData sends a multiline data block, dot-stuffed and terminated
// with a dot line.
func (rw *readWriter) SendData(data []byte) {
	for _, line := range strings.Split(string(data), "\r\n") {
		rw.sendDataLine(line)
	}
	rw.Send(".")
}

// sendDataLine sends one line of data, taking care of the
// dot-stuffing.
func (rw *readWriter) sendDataLine(line string) {
	if strings.HasPrefix(line, ".") {
		line = "." + line
	}
	fmt.Fprintf(rw.writer, "%s\r\n", line)
}
