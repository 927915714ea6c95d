// Package logging sets up the logger boundary of spec.md §6: leveled,
// source-located log records, with an optional hook that ships each record
// as one datagram over a Unix domain datagram socket. It wraps
// sirupsen/logrus the way nabbar-golib's logger package does (caller
// capture, pluggable logrus.Hook), without pulling in that package's
// unrelated gin/viper surface.
package logging

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger with source-location capture enabled and
// level parsed from levelName (falling back to Info on a bad value). If
// sockPath is non-empty, a DatagramHook shipping every formatted entry to
// that path is attached; a dial failure is logged and otherwise ignored, so
// a missing logger daemon never prevents the server from starting (spec.md
// §6: "The logger daemon ... [is] out of scope").
func New(levelName string, sockPath string) *logrus.Logger {
	log := logrus.New()
	log.SetReportCaller(true)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if sockPath != "" {
		hook, err := NewDatagramHook(sockPath)
		if err != nil {
			log.WithError(err).Warn("logger daemon unreachable, continuing without the datagram sink")
		} else {
			log.AddHook(hook)
		}
	}

	return log
}

// Banner prints a colored startup banner the way the teacher's
// server/main.go and client/main.go announce their configuration, using
// fatih/color instead of plain fmt so warnings stand out on a terminal.
func Banner(version, listen string) {
	color.Cyan("chatserver %s", version)
	fmt.Printf("listening on %s\n", listen)
}
