package pop

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/gaswelder/pigeonhole/scanner"
)

/*
 * Like the submission side, the retrieval protocol has a closed set
 * of commands, parsed in one place and dispatched with a single
 * switch in the session loop.
 */
type verb int

const (
	cmdUnknown verb = iota
	cmdUser
	cmdPass
	cmdApop
	cmdStat
	cmdList
	cmdRetr
	cmdDele
	cmdNoop
	cmdRset
	cmdUidl
	cmdTop
	cmdQuit
)

var verbs = map[string]verb{
	"USER": cmdUser,
	"PASS": cmdPass,
	"APOP": cmdApop,
	"STAT": cmdStat,
	"LIST": cmdList,
	"RETR": cmdRetr,
	"DELE": cmdDele,
	"NOOP": cmdNoop,
	"RSET": cmdRset,
	"UIDL": cmdUidl,
	"TOP":  cmdTop,
	"QUIT": cmdQuit,
}

type command struct {
	verb verb
	name string
	arg  string
}

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

// msgID parses a message number argument. Zero is never a valid
// number, so it doubles as the failure value.
func msgID(arg string) int {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		return 0
	}
	return id
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
