// Command qmux runs the demultiplexer standalone with a tracing handler.
// It is mainly useful for poking at the accept, reset and dispatch paths
// with real traffic.
package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/trafficlab/qmux"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	config := qmux.DefaultConfig()
	if *configPath != "" {
		var err error
		if config, err = qmux.LoadConfig(*configPath); err != nil {
			log.WithField("err", err).Fatal("load configuration")
		}
	}
	setupLogging(config.Logging)

	s, err := qmux.NewDemux(config)
	if err != nil {
		log.WithField("err", err).Fatal("create demux")
	}
	s.SetHandler(traceHandler{})
	if err := s.Listen(config.Listen); err != nil {
		log.WithField("err", err).Fatal("listen")
	}
	defer s.Close()
	if err := s.Serve(nil); err != nil {
		log.WithField("err", err).Fatal("serve")
	}
}

func setupLogging(c qmux.LoggingConfig) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithField("level", c.Level).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// traceHandler stands in for the transport layer consuming the datagrams.
type traceHandler struct{}

func (traceHandler) Created(c *qmux.Conn) error {
	log.WithFields(log.Fields{
		"cid":  fmt.Sprintf("%x", c.CID()),
		"addr": c.RemoteAddr(),
	}).Info("connection accepted")
	return nil
}

func (traceHandler) Datagram(c *qmux.Conn, b []byte) {
	log.WithFields(log.Fields{
		"cid":  fmt.Sprintf("%x", c.CID()),
		"size": len(b),
	}).Debug("datagram")
}

func (traceHandler) Closed(c *qmux.Conn) {
	log.WithFields(log.Fields{
		"cid": fmt.Sprintf("%x", c.CID()),
	}).Info("connection closed")
}
