package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/gaswelder/pigeonhole/mailbox"
	"github.com/gaswelder/pigeonhole/server"
	"github.com/gaswelder/pigeonhole/userdir"
)

var (
	configPath string
	smtpAddr   string
	popAddr    string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to the yaml config, environment only if omitted")
	flag.StringVar(&smtpAddr, "smtp", "", "submission listen address, overrides the config")
	flag.StringVar(&popAddr, "pop", "", "retrieval listen address, overrides the config")
	flag.Parse()

	config, err := server.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if smtpAddr != "" {
		config.Smtp = smtpAddr
	}
	if popAddr != "" {
		config.Pop = popAddr
	}
	setupLog(config.Debug)

	users, err := userdir.Load(config.Users)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("users: %d entries from %s", users.Count(), config.Users)

	store, err := mailbox.NewStore(config.Maildir, users)
	if err != nil {
		log.Fatal(err)
	}

	s := server.New(config, users, store)
	if err := s.Start(); err != nil {
		log.Fatal(err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
	s.Close()
}

func setupLog(debug bool) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(log.InfoLevel)
	if debug || strings.ToUpper(os.Getenv("LOG_LEVEL")) == "DEBUG" {
		log.SetLevel(log.DebugLevel)
	}
}
