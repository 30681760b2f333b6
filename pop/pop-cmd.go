package pop

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gaswelder/pigeonhole/mailbox"
)

/*
 * USER <name>
 */
func (s *session) user(c *command) {
	if s.state != stateAuthorization {
		s.Err("already authorized")
		return
	}
	if c.arg == "" {
		s.Err("empty username")
		return
	}
	if !s.backend.KnownUser(c.arg) {
		s.Err("No mailbox for given user")
		return
	}
	s.userName = c.arg
	s.OK("%s is a valid mailbox", c.arg)
}

/*
 * PASS <key>
 */
func (s *session) pass(c *command) {
	if s.state != stateAuthorization {
		s.Err("Session already started")
		return
	}
	if s.userName == "" {
		s.Err("Wrong commands order")
		return
	}

	inbox, err := s.backend.Open(s.userName, c.arg)
	if err != nil {
		s.Err(err.Error())
		return
	}
	s.inbox = inbox
	s.state = stateTransaction
	s.OK("Maildrop locked and ready")
}

/*
 * APOP <name> <digest>
 */
func (s *session) apop(c *command) {
	s.Err("Unimplemented command")
}

/*
 * STAT
 */
func (s *session) stat(c *command) {
	if !s.checkAuth() {
		return
	}
	count, size := s.inbox.Stat()
	s.OK("%d %d", count, size)
}

/*
 * LIST [<id>]
 */
func (s *session) list(c *command) {
	if !s.checkAuth() {
		return
	}

	/*
	 * Without an argument, list all undeleted messages.
	 */
	if c.arg == "" {
		s.OK("List follows")
		for _, entry := range s.inbox.Entries() {
			s.Send("%d %d", entry.ID, entry.Msg.Size())
		}
		s.Send(".")
		return
	}

	id := msgID(c.arg)
	m, err := s.inbox.Fetch(id)
	if err != nil {
		s.Err(lookupError(err))
		return
	}
	s.OK("%d %d", id, m.Size())
}

/*
 * RETR <id>
 */
func (s *session) retr(c *command) {
	if !s.checkAuth() {
		return
	}
	m, err := s.inbox.Fetch(msgID(c.arg))
	if err != nil {
		s.Err(lookupError(err))
		return
	}
	data, err := m.Bytes()
	if err != nil {
		s.log.Errorf("retr %s: %v", c.arg, err)
		s.Err("unable to read message")
		return
	}
	s.OK("%d octets", m.Size())
	s.SendData(data)
}

/*
 * DELE <id>
 */
func (s *session) dele(c *command) {
	if !s.checkAuth() {
		return
	}
	id := msgID(c.arg)
	if err := s.inbox.MarkDelete(id); err != nil {
		s.Err(lookupError(err))
		return
	}
	s.OK("message %d deleted", id)
}

/*
 * NOOP
 */
func (s *session) noop(c *command) {
	if !s.checkAuth() {
		return
	}
	s.OK("")
}

/*
 * RSET
 */
func (s *session) rset(c *command) {
	if !s.checkAuth() {
		return
	}
	s.inbox.Reset()
	count, _ := s.inbox.Stat()
	s.OK("maildrop has %d messages", count)
}

/*
 * UIDL [<id>]
 */
func (s *session) uidl(c *command) {
	if !s.checkAuth() {
		return
	}
	if c.arg == "" {
		s.OK("")
		for _, entry := range s.inbox.Entries() {
			s.Send("%d %s", entry.ID, entry.Msg.UID)
		}
		s.Send(".")
		return
	}

	id := msgID(c.arg)
	m, err := s.inbox.Fetch(id)
	if err != nil {
		s.Err(lookupError(err))
		return
	}
	s.OK("%d %s", id, m.UID)
}

/*
 * TOP <id> <n>
 *
 * Sends the headers plus the first n lines of the body.
 */
func (s *session) top(c *command) {
	if !s.checkAuth() {
		return
	}

	var id, n int
	if _, err := fmt.Sscanf(c.arg, "%d %d", &id, &n); err != nil || n < 0 {
		s.Err("Syntax: TOP msg n")
		return
	}
	m, err := s.inbox.Fetch(id)
	if err != nil {
		s.Err(lookupError(err))
		return
	}
	data, err := m.Bytes()
	if err != nil {
		s.log.Errorf("top %d: %v", id, err)
		s.Err("unable to read message")
		return
	}

	lines := strings.Split(string(data), "\r\n")
	size := len(lines)
	i := 0

	s.OK("")
	for i < size {
		s.sendDataLine(lines[i])
		if lines[i] == "" {
			break
		}
		i++
	}
	i++
	for i < size && n > 0 {
		s.sendDataLine(lines[i])
		i++
		n--
	}
	s.Send(".")
}

/*
 * QUIT enters the update phase: staged deletions get applied, and
 * only then. Quitting before authorization just ends the session.
 */
func (s *session) quit(c *command) {
	s.state = stateClosed
	if s.inbox == nil {
		s.OK("POP3 server signing off")
		return
	}
	if err := s.inbox.Commit(); err != nil {
		s.log.Errorf("commit for %s failed: %v", s.inbox.User(), err)
		s.Err("failed to update the mailbox")
		return
	}
	s.OK("POP3 server signing off")
}

func (s *session) checkAuth() bool {
	if s.state != stateTransaction {
		s.Err("Unauthorized")
		return false
	}
	return true
}

func lookupError(err error) string {
	if errors.Is(err, mailbox.ErrMessageDeleted) {
		return "message already deleted"
	}
	return "no such message"
}
