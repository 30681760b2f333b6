/*
 * The retrieval side of the server. A session passes through the
 * usual three phases: authorization (USER and PASS), transaction
 * (everything against the locked mailbox), and update, entered only
 * by a graceful QUIT, which is when staged deletions actually
 * happen. Any other way out of the session, including the peer just
 * vanishing, releases the mailbox with all marks discarded.
 */
package pop

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/gaswelder/pigeonhole/mailbox"
)

// Backend supplies what a session needs from the rest of the server.
type Backend struct {
	// KnownUser reports whether the name has a mailbox, which the
	// authorization phase discloses to the client.
	KnownUser func(name string) bool

	// Open checks the password and locks the user's mailbox for the
	// session. The error text goes to the client verbatim.
	Open func(user, pass string) (*mailbox.Handle, error)
}

type sessionState int

const (
	stateAuthorization sessionState = iota
	stateTransaction
	stateClosed
)

type session struct {
	*readWriter
	backend *Backend
	state   sessionState

	// the name given with USER, awaiting PASS
	userName string

	inbox *mailbox.Handle
}

// Process runs a retrieval session on the connection until the
// client quits or the connection fails.
func Process(conn io.ReadWriter, backend *Backend, log *logrus.Entry) {
	s := &session{
		readWriter: newReadWriter(conn, log),
		backend:    backend,
	}
	/*
	 * Whatever happens to the session, the mailbox must not stay
	 * locked behind it. After a graceful QUIT this is a no-op.
	 */
	defer func() {
		if s.inbox != nil {
			s.inbox.Release()
		}
	}()

	s.OK("POP3 server ready")
	for s.state != stateClosed {
		line, err := s.ReadLine()
		if err != nil {
			log.Debugf("session ended: %v", err)
			return
		}
		cmd, err := parseCommand(line)
		if err != nil {
			s.Err(err.Error())
			continue
		}

		switch cmd.verb {
		case cmdUser:
			s.user(cmd)
		case cmdPass:
			s.pass(cmd)
		case cmdApop:
			s.apop(cmd)
		case cmdStat:
			s.stat(cmd)
		case cmdList:
			s.list(cmd)
		case cmdRetr:
			s.retr(cmd)
		case cmdDele:
			s.dele(cmd)
		case cmdNoop:
			s.noop(cmd)
		case cmdRset:
			s.rset(cmd)
		case cmdUidl:
			s.uidl(cmd)
		case cmdTop:
			s.top(cmd)
		case cmdQuit:
			s.quit(cmd)
		case cmdUnknown:
			s.Err("Unknown command")
		}
	}
}
