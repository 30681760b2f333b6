/*
 * The submission side of the server: takes messages from clients and
 * hands them to the mailbox store, one "MAIL, RCPT, DATA" transaction
 * at a time.
 */
package smtp

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/gaswelder/pigeonhole/mailbox"
)

const (
	AuthOK                  = 235
	ParameterSyntaxError    = 501
	CommandNotImplemented   = 502
	BadSequenceOfCommands   = 503
	ParameterNotImplemented = 504
	AuthInvalid             = 535
)

// Backend supplies what a session needs from the rest of the server:
// recipient validation, delivery and credential checks.
type Backend struct {
	Hostname string

	// CheckRecipient reports whether mail for the address would be
	// deliverable.
	CheckRecipient func(addr string) error

	// Deliver appends a finished message to one recipient's mailbox.
	Deliver func(rcpt string, msg *mailbox.Message) error

	// Authenticate verifies a login. Leaving it nil disables the
	// AUTH extension.
	Authenticate func(user, pass string) error
}

/*
 * A session walks through a fixed set of states: start, greeted, and
 * greeted with a mail transaction in progress. The DATA read happens
 * inside the command handler, so there is no separate state for it.
 */
type sessionState int

const (
	stateStart sessionState = iota
	stateReady
	stateMail
	stateDone
)

type session struct {
	*readWriter
	backend *Backend
	state   sessionState

	// the client's name from HELO or EHLO
	senderHost string

	sender *Path
	rcpts  []string
	authed bool
}

// Process runs a submission session on the connection until the
// client quits or the connection fails.
func Process(conn io.ReadWriter, backend *Backend, log *logrus.Entry) {
	s := &session{
		readWriter: newReadWriter(conn, log),
		backend:    backend,
	}
	s.Send(220, "%s ready", backend.Hostname)

	for s.state != stateDone {
		line, err := s.ReadLine()
		if err != nil {
			log.Debugf("session ended: %v", err)
			return
		}
		cmd, err := parseCommand(line)
		if err != nil {
			s.Send(500, "Error: %v", err)
			continue
		}

		switch cmd.verb {
		case cmdHelo:
			s.helo(cmd)
		case cmdEhlo:
			s.ehlo(cmd)
		case cmdMail:
			s.mail(cmd)
		case cmdRcpt:
			s.rcpt(cmd)
		case cmdData:
			s.data(cmd)
		case cmdRset:
			s.rset(cmd)
		case cmdNoop:
			s.noop(cmd)
		case cmdHelp:
			s.help(cmd)
		case cmdVrfy:
			s.obsolete(cmd)
		case cmdAuth:
			s.auth(cmd)
		case cmdQuit:
			s.quit(cmd)
		case cmdUnknown:
			s.Send(500, "Error: command %q not recognized", cmd.name)
		}
	}
}

// abortTransaction drops the mail transaction in progress, if any,
// keeping the greeting.
func (s *session) abortTransaction() {
	s.sender = nil
	s.rcpts = nil
	if s.state == stateMail {
		s.state = stateReady
	}
}
