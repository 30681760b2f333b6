package smtp

import (
	"bytes"
	"encoding/base64"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"

	"github.com/gaswelder/pigeonhole/mailbox"
	"github.com/gaswelder/pigeonhole/scanner"
)

/*
 * HELO <host>
 */
func (s *session) helo(cmd *command) {
	if !s.greet(cmd) {
		return
	}
	s.Send(250, "Go ahead, %s", s.senderHost)
}

/*
 * EHLO <host>
 */
func (s *session) ehlo(cmd *command) {
	if !s.greet(cmd) {
		return
	}
	w := s.BeginBatch(250)
	w.Send("Hello, %s", s.senderHost)
	w.Send("HELP")
	if s.backend.Authenticate != nil {
		w.Send("AUTH PLAIN")
	}
	w.End()
}

func (s *session) greet(cmd *command) bool {
	if cmd.arg == "" {
		s.Send(ParameterSyntaxError, "Syntax: %s hostname", cmd.name)
		return false
	}
	if s.state != stateStart {
		s.Send(BadSequenceOfCommands, "Duplicate %s", cmd.name)
		return false
	}
	s.senderHost = cmd.arg
	s.state = stateReady
	return true
}

/*
 * MAIL FROM:<reverse-path>[ <params>]
 */
func (s *session) mail(cmd *command) {
	switch s.state {
	case stateStart:
		s.Send(BadSequenceOfCommands, "Error: send HELO first")
		return
	case stateMail:
		s.Send(BadSequenceOfCommands, "Error: nested MAIL command")
		return
	}

	p := scanner.New(cmd.arg)
	if !p.SkipFold("FROM:") {
		s.Send(ParameterSyntaxError, "The format is: MAIL FROM:<reverse-path>")
		return
	}
	rpath, err := parsePath(p)
	if err != nil {
		s.Send(ParameterSyntaxError, "Malformed reverse-path")
		return
	}

	// Mail parameters may follow the path. None are supported, but
	// they are harmless to ignore.
	if p.More() && p.Peek() == ' ' {
		s.log.Debugf("ignoring MAIL params %q", strings.TrimSpace(p.Rest()))
	}

	s.sender = rpath
	s.state = stateMail
	s.Send(250, "OK")
}

/*
 * RCPT TO:<forward-path>
 */
func (s *session) rcpt(cmd *command) {
	if s.state != stateMail {
		s.Send(BadSequenceOfCommands, "Error: need MAIL command")
		return
	}

	p := scanner.New(cmd.arg)
	if !p.SkipFold("TO:") {
		s.Send(ParameterSyntaxError, "The format is: RCPT TO:<forward-path>")
		return
	}
	path, err := parsePath(p)
	if err != nil || path.Address == "" {
		s.Send(ParameterSyntaxError, "Malformed forward-path")
		return
	}
	if len(path.Hosts) > 0 {
		s.Send(551, "This server does not relay")
		return
	}

	if err := s.backend.CheckRecipient(path.Address); err != nil {
		s.log.Debugf("recipient %s rejected: %v", path.Address, err)
		s.Send(550, "Unknown recipient")
		return
	}
	for _, have := range s.rcpts {
		if have == path.Address {
			s.Send(250, "Recipient OK")
			return
		}
	}
	s.rcpts = append(s.rcpts, path.Address)
	s.Send(250, "Recipient OK")
}

/*
 * DATA
 */
func (s *session) data(cmd *command) {
	if s.state != stateMail {
		s.Send(BadSequenceOfCommands, "Error: need MAIL command")
		return
	}
	if len(s.rcpts) == 0 {
		s.Send(BadSequenceOfCommands, "Error: need RCPT command")
		return
	}
	if cmd.arg != "" {
		s.Send(ParameterSyntaxError, "Syntax: DATA")
		return
	}

	s.Send(354, "Start mail input, terminate with a dot line (.)")

	var text bytes.Buffer
	for {
		line, err := s.ReadLine()
		if err != nil {
			/*
			 * A drop during the data phase kills the session and
			 * the unfinished message with it.
			 */
			s.log.Debugf("connection lost in data phase: %v", err)
			s.state = stateDone
			return
		}
		if line == ".\r\n" {
			break
		}
		// Undo the dot-stuffing.
		if line[0] == '.' {
			line = line[1:]
		}
		text.WriteString(line)
	}

	msg := mailbox.NewMessage(s.sender.Address, s.rcpts, text.Bytes())
	for _, rcpt := range s.rcpts {
		if err := s.backend.Deliver(rcpt, msg); err != nil {
			s.log.Errorf("delivery to %s failed: %v", rcpt, err)
			s.Send(554, "Couldn't deliver to %s", rcpt)
			s.abortTransaction()
			return
		}
	}
	s.abortTransaction()
	s.Send(250, "OK")
}

/*
 * RSET - drop the current transaction
 */
func (s *session) rset(cmd *command) {
	if cmd.arg != "" {
		s.Send(ParameterSyntaxError, "Syntax: RSET")
		return
	}
	s.abortTransaction()
	s.Send(250, "OK")
}

func (s *session) noop(cmd *command) {
	if cmd.arg != "" {
		s.Send(ParameterSyntaxError, "Syntax: NOOP")
		return
	}
	s.Send(250, "OK")
}

var helpSeed = time.Now().Second()

var helpMessages = []string{
	"Nah, go RTFM",
	"Sorry, I'm busy right now",
	"Error: not a psychiatrist",
	"Usage: HELP",
	"Unknown command: HELP. Try HELP for more info",
	"Face not recognized",
	"Maybe, take a vacation?",
}

func (s *session) help(cmd *command) {
	s.Send(214, helpfulMessage())
}

func helpfulMessage() string {
	return helpMessages[helpSeed%len(helpMessages)]
}

func (s *session) obsolete(cmd *command) {
	s.Send(CommandNotImplemented, "Obsolete command")
}

func (s *session) quit(cmd *command) {
	s.Send(221, "So long, Bob")
	s.state = stateDone
}

/*
 * AUTH PLAIN [<initial-response>]
 *
 * The exchange is delegated to the SASL machinery: the server side
 * produces challenges until the mechanism says it's done, and every
 * challenge goes out as a 334 continuation line.
 */
func (s *session) auth(cmd *command) {
	if s.backend.Authenticate == nil {
		s.Send(CommandNotImplemented, "AUTH not available")
		return
	}
	if s.authed {
		s.Send(BadSequenceOfCommands, "Already authorized")
		return
	}

	parts := strings.SplitN(cmd.arg, " ", 2)
	if strings.ToUpper(parts[0]) != sasl.Plain {
		s.Send(ParameterNotImplemented, "Only PLAIN is supported")
		return
	}

	var resp []byte
	if len(parts) == 2 {
		var err error
		resp, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			s.Send(ParameterSyntaxError, "Malformed auth response")
			return
		}
	}

	server := sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return errors.New("identities don't match")
		}
		return s.backend.Authenticate(username, password)
	})

	for {
		challenge, done, err := server.Next(resp)
		if err != nil {
			s.Send(AuthInvalid, "Authentication credentials invalid")
			return
		}
		if done {
			break
		}
		s.Send(334, "%s", base64.StdEncoding.EncodeToString(challenge))
		line, err := s.ReadLine()
		if err != nil {
			s.state = stateDone
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "*" {
			s.Send(ParameterSyntaxError, "Authentication cancelled")
			return
		}
		resp, err = base64.StdEncoding.DecodeString(line)
		if err != nil {
			s.Send(ParameterSyntaxError, "Malformed auth response")
			return
		}
	}

	s.authed = true
	s.Send(AuthOK, "Authentication succeeded")
}
