/*
 * User directory, the flat registry of known mailbox users.
 *
 * The registry is a plain text file, one user per line:
 *
 *     <name> <password>
 *
 * The password field may instead hold a bcrypt hash (anything
 * starting with "$2"), in which case the plain text never touches
 * the disk. Blank lines and lines starting with '#' are skipped.
 */
package userdir

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var ErrNoSuchUser = errors.New("no such user")

type Dir struct {
	path string

	mu sync.RWMutex
	pw map[string]string
}

// Load reads the registry file at the given path.
func Load(path string) (*Dir, error) {
	d := &Dir{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the registry file and swaps in the result.
// On failure the previous contents stay in effect.
func (d *Dir) Reload() error {
	f, err := os.Open(d.path)
	if err != nil {
		return errors.Wrap(err, "open users registry")
	}
	defer f.Close()

	pw := make(map[string]string)
	lineno := 0
	r := bufio.NewScanner(f)
	for r.Scan() {
		lineno++
		line := strings.TrimSpace(r.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			log.Warnf("users: %s:%d: malformed line, skipping", d.path, lineno)
			continue
		}
		name, pass := fields[0], fields[1]
		if _, ok := pw[name]; ok {
			/*
			 * First entry wins, same as the usual passwd behavior.
			 */
			log.Warnf("users: %s:%d: duplicate user %s, keeping the first entry", d.path, lineno, name)
			continue
		}
		pw[name] = pass
	}
	if err := r.Err(); err != nil {
		return errors.Wrap(err, "read users registry")
	}

	d.mu.Lock()
	d.pw = pw
	d.mu.Unlock()
	return nil
}

// Lookup returns the stored password field for the user.
func (d *Dir) Lookup(name string) (string, error) {
	d.mu.RLock()
	pass, ok := d.pw[name]
	d.mu.RUnlock()
	if !ok {
		return "", ErrNoSuchUser
	}
	return pass, nil
}

// Exists reports whether the user is in the registry.
func (d *Dir) Exists(name string) bool {
	d.mu.RLock()
	_, ok := d.pw[name]
	d.mu.RUnlock()
	return ok
}

// Verify checks the user's password against the registry entry,
// comparing against the bcrypt hash if the entry holds one.
func (d *Dir) Verify(name, pass string) bool {
	stored, err := d.Lookup(name)
	if err != nil {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(pass)) == nil
	}
	return stored == pass
}

// Names returns all registered user names in no particular order.
func (d *Dir) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.pw))
	for name := range d.pw {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered users.
func (d *Dir) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pw)
}
