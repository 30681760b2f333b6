/*
 * Interactive mail client for the pigeonhole server pair. Sends mail
 * through the submission port and manages maildrops through the
 * retrieval port, using the same wire dialects as the server.
 */
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/gaswelder/pigeonhole/client"
)

var (
	serverHost string
	smtpAddr   string
	popAddr    string
	user       string
	pass       string
)

func main() {
	flag.StringVar(&serverHost, "server", "localhost", "mail server host")
	flag.StringVar(&smtpAddr, "smtp", "", "submission address, default <server>:2525")
	flag.StringVar(&popAddr, "pop", "", "retrieval address, default <server>:1110")
	flag.StringVar(&user, "user", "", "mailbox user")
	flag.StringVar(&pass, "pass", "", "mailbox password")
	flag.Parse()
	if smtpAddr == "" {
		smtpAddr = serverHost + ":2525"
	}
	if popAddr == "" {
		popAddr = serverHost + ":1110"
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Println("Please choose an option from the menu:")
		fmt.Println()
		fmt.Println("[a] send a mail")
		fmt.Println("[b] manage a mailbox")
		fmt.Println("[c] round-trip check")
		fmt.Println("[d] exit")
		switch strings.ToLower(prompt(in, "Enter a menu option: ")) {
		case "a":
			if err := sendMail(in); err != nil {
				fmt.Println("error:", err)
			}
		case "b":
			if err := manageMailbox(in); err != nil {
				fmt.Println("error:", err)
			}
		case "c":
			if err := roundTrip(in); err != nil {
				fmt.Println("round-trip check failed:", err)
				os.Exit(1)
			}
		case "d":
			return
		default:
			fmt.Println("Invalid menu option.")
		}
		fmt.Println()
	}
}

func sendMail(in *bufio.Scanner) error {
	from := prompt(in, "From: ")
	to := prompt(in, "To: ")
	subject := prompt(in, "Subject: ")
	if len(subject) > 150 {
		return fmt.Errorf("subject can't be longer than 150 characters")
	}
	fmt.Println("Mail content, finish with a single dot on its own line:")
	var lines []string
	for {
		line, ok := readLine(in)
		if !ok || line == "." {
			break
		}
		lines = append(lines, line)
	}

	body, err := compose(from, to, subject, lines)
	if err != nil {
		return err
	}

	s, err := client.DialSubmitter(smtpAddr)
	if err != nil {
		return err
	}
	defer s.Close()
	if user != "" && pass != "" {
		if _, err := s.Ehlo(localName()); err != nil {
			return err
		}
		if err := s.Auth(user, pass); err != nil {
			return err
		}
	} else if err := s.Helo(localName()); err != nil {
		return err
	}
	if err := s.Send(from, []string{to}, body); err != nil {
		return err
	}
	if err := s.Quit(); err != nil {
		return err
	}
	fmt.Println("Mail sent.")
	return nil
}

func manageMailbox(in *bufio.Scanner) error {
	u, p := credentials(in)
	r, err := client.DialRetriever(popAddr)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Login(u, p); err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s.\n", u)

	for {
		args := strings.Fields(prompt(in, "mailbox> "))
		if len(args) == 0 {
			continue
		}
		var err error
		switch args[0] {
		case "stat":
			var count int
			var size int64
			count, size, err = r.Stat()
			if err == nil {
				fmt.Printf("%d messages, %d octets\n", count, size)
			}
		case "list":
			var entries []client.ListEntry
			entries, err = r.List()
			if err == nil {
				for _, e := range entries {
					fmt.Printf("%d\t%d\n", e.ID, e.Size)
				}
			}
		case "scan":
			var entries []client.ListEntry
			entries, err = r.List()
			if err == nil {
				for _, e := range entries {
					var head []byte
					head, err = r.Top(e.ID, 0)
					if err != nil {
						break
					}
					fmt.Printf("%d\t%s\n", e.ID, summarize(head))
				}
			}
		case "uidl":
			var entries []client.UidlEntry
			entries, err = r.Uidl()
			if err == nil {
				for _, e := range entries {
					fmt.Printf("%d\t%s\n", e.ID, e.UID)
				}
			}
		case "retr":
			var id int
			id, err = msgArg(args)
			if err == nil {
				var data []byte
				data, err = r.Retr(id)
				if err == nil {
					os.Stdout.Write(data)
				}
			}
		case "dele":
			var id int
			id, err = msgArg(args)
			if err == nil {
				err = r.Dele(id)
			}
		case "rset":
			err = r.Rset()
		case "quit":
			return r.Quit()
		case "help", "?":
			fmt.Println("commands: stat, list, scan, uidl, retr <n>, dele <n>, rset, quit")
		default:
			fmt.Println("unknown command, try help")
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}

/*
 * The round-trip check submits a probe with a unique token, pulls it
 * back through the retrieval port and compares the bytes. It leaves
 * the maildrop as it found it.
 */
func roundTrip(in *bufio.Scanner) error {
	u, p := credentials(in)
	token := uuid.NewString()
	body, err := compose(u, u, "probe "+token, []string{"round-trip probe " + token})
	if err != nil {
		return err
	}

	s, err := client.DialSubmitter(smtpAddr)
	if err != nil {
		return err
	}
	if err := s.Helo(localName()); err != nil {
		s.Close()
		return err
	}
	if err := s.Send(u, []string{u}, body); err != nil {
		s.Close()
		return err
	}
	if err := s.Quit(); err != nil {
		return err
	}

	r, err := client.DialRetriever(popAddr)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Login(u, p); err != nil {
		return err
	}
	entries, err := r.List()
	if err != nil {
		return err
	}
	// The probe is the newest message, scan from the end.
	for i := len(entries) - 1; i >= 0; i-- {
		got, err := r.Retr(entries[i].ID)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, body) {
			continue
		}
		if err := r.Dele(entries[i].ID); err != nil {
			return err
		}
		if err := r.Quit(); err != nil {
			return err
		}
		fmt.Printf("round-trip OK, %d bytes intact\n", len(body))
		return nil
	}
	return fmt.Errorf("probe %s not found in the maildrop", token)
}

// summarize turns a fetched header block into a one-line sender and
// subject view.
func summarize(head []byte) string {
	// A TOP reply may stop right after the last header line, so give
	// the parser its blank-line terminator.
	head = append(head, "\r\n"...)
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return "(unreadable headers)"
	}
	h := mail.Header{Header: message.Header{Header: hdr}}
	subject, _ := h.Subject()
	return fmt.Sprintf("%s\t%s", hdr.Get("From"), subject)
}

func compose(from, to, subject string, lines []string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	if err := h.GenerateMessageIDWithHostname(serverHost); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := textproto.WriteHeader(&b, h.Header.Header); err != nil {
		return nil, err
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.Bytes(), nil
}

func credentials(in *bufio.Scanner) (string, string) {
	u, p := user, pass
	if u == "" {
		u = prompt(in, "Username: ")
	}
	if p == "" {
		p = prompt(in, "Password: ")
	}
	return u, p
}

func msgArg(args []string) (int, error) {
	if len(args) != 2 {
		return 0, fmt.Errorf("message number expected")
	}
	return strconv.Atoi(args[1])
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	line, ok := readLine(in)
	if !ok {
		os.Exit(0)
	}
	return strings.TrimSpace(line)
}

func readLine(in *bufio.Scanner) (string, bool) {
	if !in.Scan() {
		return "", false
	}
	return in.Text(), true
}

func localName() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}
