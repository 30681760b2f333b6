package smtp

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

type readWriter struct {
	conn io.Writer
	r    *bufio.Reader
	log  *logrus.Entry
}

func newReadWriter(conn io.ReadWriter, log *logrus.Entry) *readWriter {
	return &readWriter{
		conn: conn,
		r:    bufio.NewReader(conn),
		log:  log,
	}
}

func (w *readWriter) ReadLine() (string, error) {
	line, err := w.r.ReadString('\n')
	if err != nil {
		return line, err
	}
	w.log.Debugf("<- %q", line)
	return line, nil
}

func (w *readWriter) Send(code int, format string, args ...interface{}) {
	line := fmt.Sprintf("%d %s", code, fmt.Sprintf(format, args...))
	w.log.Debugf("-> %s", line)
	fmt.Fprintf(w.conn, "%s\r\n", line)
}

func (w *readWriter) BeginBatch(code int) *batchWriter {
	return &batchWriter{code: code, rw: w}
}

/*
 * Multiline replies hold the code on every line, with a dash after
 * the code on all lines but the last. The batch writer buffers one
 * line so that it knows which one is last when End is called.
 */
type batchWriter struct {
	code     int
	lastLine string
	rw       *readWriter
}

func (w *batchWriter) Send(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if w.lastLine != "" {
		w.rw.log.Debugf("-> %d-%s", w.code, w.lastLine)
		fmt.Fprintf(w.rw.conn, "%d-%s\r\n", w.code, w.lastLine)
	}
	w.lastLine = line
}

func (w *batchWriter) End() {
	if w.lastLine == "" {
		return
	}
	w.rw.log.Debugf("-> %d %s", w.code, w.lastLine)
	fmt.Fprintf(w.rw.conn, "%d %s\r\n", w.code, w.lastLine)
	w.lastLine = ""
}
