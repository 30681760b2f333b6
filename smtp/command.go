package smtp

import (
	"github.com/pkg/errors"

	"github.com/gaswelder/pigeonhole/scanner"
)

/*
 * The submission protocol has a closed set of commands. Everything a
 * client can say becomes one of these verbs at the parsing step, and
 * the session loop dispatches over the whole set in one place.
 */
type verb int

const (
	cmdUnknown verb = iota
	cmdHelo
	cmdEhlo
	cmdMail
	cmdRcpt
	cmdData
	cmdRset
	cmdNoop
	cmdHelp
	cmdVrfy
	cmdAuth
	cmdQuit
)

var verbs = map[string]verb{
	"HELO": cmdHelo,
	"EHLO": cmdEhlo,
	"MAIL": cmdMail,
	"RCPT": cmdRcpt,
	"DATA": cmdData,
	"RSET": cmdRset,
	"NOOP": cmdNoop,
	"HELP": cmdHelp,
	"VRFY": cmdVrfy,
	"AUTH": cmdAuth,
	"QUIT": cmdQuit,
}

// command is one parsed client line.
type command struct {
	verb verb
	// name is the literal command word as the client sent it,
	// kept for error messages.
	name string
	arg  string
}

/*
 * Parse a command line. The verb is a word matched without regard to
 * case, the optional argument runs to the end of the line, and the
 * line must end with CRLF.
 */
func parseCommand(line string) (*command, error) {
	r := scanner.New(line)

	name := ""
	for isAlpha(r.Peek()) {
		name += string(toUpper(r.Take()))
	}
	if name == "" {
		return nil, errors.New("bad syntax")
	}

	arg := ""
	if r.Peek() == ' ' {
		r.Take()
		for r.More() && r.Peek() != '\r' {
			arg += string(r.Take())
		}
	}

	if r.Take() != '\r' || r.Take() != '\n' {
		return nil, errors.New("<CRLF> expected")
	}

	v, ok := verbs[name]
	if !ok {
		v = cmdUnknown
	}
	return &command{verb: v, name: name, arg: arg}, nil
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	return c
}
