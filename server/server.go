/*
 * The server ties the pieces together: one listener per protocol,
 * a shared user directory and a shared mailbox store. Every accepted
 * connection gets its own goroutine running one protocol session;
 * the store is the only thing the sessions share.
 */
package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gaswelder/pigeonhole/mailbox"
	"github.com/gaswelder/pigeonhole/pop"
	"github.com/gaswelder/pigeonhole/smtp"
	"github.com/gaswelder/pigeonhole/userdir"
)

type Server struct {
	config *Config
	users  *userdir.Dir
	store  *mailbox.Store

	smtpBackend *smtp.Backend
	popBackend  *pop.Backend

	smtpLn    net.Listener
	popLn     net.Listener
	stopWatch func()
}

func New(config *Config, users *userdir.Dir, store *mailbox.Store) *Server {
	store.WaitTimeout = config.LockWait
	s := &Server{
		config: config,
		users:  users,
		store:  store,
	}
	s.smtpBackend = &smtp.Backend{
		Hostname: config.Hostname,
		CheckRecipient: func(addr string) error {
			if !users.Exists(addr) {
				return userdir.ErrNoSuchUser
			}
			return nil
		},
		Deliver: func(rcpt string, msg *mailbox.Message) error {
			return store.Append(rcpt, msg)
		},
		Authenticate: func(user, pass string) error {
			if !users.Verify(user, pass) {
				return errors.New("invalid credentials")
			}
			return nil
		},
	}
	s.popBackend = &pop.Backend{
		KnownUser: users.Exists,
		Open: func(user, pass string) (*mailbox.Handle, error) {
			if !users.Verify(user, pass) {
				return nil, errors.New("invalid password")
			}
			return store.Acquire(user)
		},
	}
	return s
}

// Start brings up the configured listeners. An empty listen address
// disables that side of the server.
func (s *Server) Start() error {
	if s.config.Smtp != "" {
		ln, err := net.Listen("tcp", s.config.Smtp)
		if err != nil {
			return errors.Wrap(err, "smtp listen")
		}
		s.smtpLn = ln
		log.Infof("SMTP: listening on %s", ln.Addr())
		go s.acceptLoop(ln, "smtp", s.serveSMTP)
	}
	if s.config.Pop != "" {
		ln, err := net.Listen("tcp", s.config.Pop)
		if err != nil {
			s.Close()
			return errors.Wrap(err, "pop listen")
		}
		s.popLn = ln
		log.Infof("POP: listening on %s", ln.Addr())
		go s.acceptLoop(ln, "pop", s.servePOP)
	}
	if s.config.WatchUsers {
		stop, err := s.users.Watch()
		if err != nil {
			log.Errorf("users: watch disabled: %v", err)
		} else {
			s.stopWatch = stop
		}
	}
	return nil
}

// SMTPAddr returns the submission listener's address, nil if that
// side is disabled.
func (s *Server) SMTPAddr() net.Addr {
	if s.smtpLn == nil {
		return nil
	}
	return s.smtpLn.Addr()
}

// POPAddr returns the retrieval listener's address, nil if that side
// is disabled.
func (s *Server) POPAddr() net.Addr {
	if s.popLn == nil {
		return nil
	}
	return s.popLn.Addr()
}

// Close shuts the listeners down. Sessions already running finish on
// their own.
func (s *Server) Close() {
	if s.smtpLn != nil {
		s.smtpLn.Close()
	}
	if s.popLn != nil {
		s.popLn.Close()
	}
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

func (s *Server) acceptLoop(ln net.Listener, proto string, serve func(net.Conn, *log.Entry)) {
	plog := log.WithField("proto", proto)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			plog.Errorf("accept: %v", err)
			continue
		}
		clog := plog.WithField("peer", conn.RemoteAddr().String())
		go func() {
			clog.Info("connected")
			serve(conn, clog)
			conn.Close()
			clog.Info("disconnected")
		}()
	}
}

func (s *Server) serveSMTP(conn net.Conn, clog *log.Entry) {
	smtp.Process(s.timed(conn), s.smtpBackend, clog)
}

func (s *Server) servePOP(conn net.Conn, clog *log.Entry) {
	pop.Process(s.timed(conn), s.popBackend, clog)
}

// timed wraps the connection so that every read pushes the idle
// deadline forward. A peer that stalls past the deadline gets a read
// error, which both protocols treat as a network failure.
func (s *Server) timed(conn net.Conn) net.Conn {
	if s.config.IdleTimeout <= 0 {
		return conn
	}
	return &deadlineConn{Conn: conn, timeout: s.config.IdleTimeout}
}

type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
