package smtp

import (
	"github.com/pkg/errors"

	"github.com/gaswelder/pigeonhole/scanner"
)

/*
 * Forward or reverse path from the envelope, like "<bob@example.net>"
 * or the historical source-route form "<@one,@two:joe@three>". The
 * null reverse-path "<>" comes out as an empty Address.
 */
type Path struct {
	// source-route hops, which this server refuses to follow
	Hosts []string
	// the final mailbox
	Address string
}

func (p *Path) String() string {
	s := "<"
	for i, host := range p.Hosts {
		if i > 0 {
			s += ","
		}
		s += "@" + host
	}
	if len(p.Hosts) > 0 {
		s += ":"
	}
	return s + p.Address + ">"
}

func parsePath(r *scanner.Scanner) (*Path, error) {
	p := new(Path)

	if !r.Expect('<') {
		return nil, r.Err()
	}
	if r.Peek() == '>' {
		r.Take()
		return p, nil
	}

	if r.Peek() == '@' {
		for {
			r.Expect('@')
			p.Hosts = append(p.Hosts, r.ReadAddress())
			ch := r.Take()
			if ch == ',' {
				continue
			}
			if ch == ':' {
				break
			}
			return nil, errors.Errorf("unexpected character %q", ch)
		}
	}

	p.Address = r.ReadAddress()
	if p.Address == "" {
		return nil, errors.New("empty address")
	}
	r.Expect('>')
	if r.Err() != nil {
		return nil, r.Err()
	}
	return p, nil
}
