// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chatcore/reactorchat/internal/auth"
	"github.com/chatcore/reactorchat/internal/config"
	"github.com/chatcore/reactorchat/internal/logging"
	"github.com/chatcore/reactorchat/internal/server"
	"github.com/chatcore/reactorchat/internal/workerpool"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "chatserver"
	myApp.Usage = "multi-user group chat server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "0.0.0.0:1234",
			Usage: "chat server listen address, eg: \"0.0.0.0:1234\"",
		},
		cli.IntFlag{
			Name:  "threads",
			Value: 0,
			Usage: "auth-adapter worker pool size; 0 means 2x hardware parallelism, minimum 4",
		},
		cli.IntFlag{
			Name:  "max-body-size",
			Value: 0,
			Usage: "maximum frame body size in bytes; 0 means the built-in default",
		},
		cli.StringFlag{
			Name:  "auth-mode",
			Value: "nop",
			Usage: "auth adapter backend: nop, net, or mysql",
		},
		cli.StringFlag{
			Name:  "auth-net-addr",
			Value: "",
			Usage: "remote credential service address, used when auth-mode=net",
		},
		cli.StringFlag{
			Name:  "mysql-dsn",
			Value: "",
			Usage: "MySQL DSN for the credential store, used when auth-mode=mysql",
		},
		cli.IntFlag{
			Name:  "auth-timeout-sec",
			Value: 5,
			Usage: "timeout in seconds for a single Auth Adapter call",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "debug, info, warn, or error",
		},
		cli.StringFlag{
			Name:  "log-sock-path",
			Value: "",
			Usage: "unix domain datagram socket path for shipping log records to an external daemon",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress the startup banner",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command line flags",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Listen = c.String("listen")
	cfg.Threads = c.Int("threads")
	cfg.MaxBodySize = int64(c.Int("max-body-size"))
	cfg.AuthMode = c.String("auth-mode")
	cfg.AuthNetAddr = c.String("auth-net-addr")
	cfg.MySQLDSN = c.String("mysql-dsn")
	cfg.AuthTimeoutSec = c.Int("auth-timeout-sec")
	cfg.LogLevel = c.String("log-level")
	cfg.LogSockPath = c.String("log-sock-path")
	cfg.Quiet = c.Bool("quiet")

	// chatserver [port] [threads], per spec.md §6, overrides listen/threads
	// after flags so the documented positional form wins over them; a -c
	// JSON file, applied next, still overrides both.
	if c.NArg() > 0 {
		port, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			checkError(err)
		}
		cfg.Listen = fmt.Sprintf("0.0.0.0:%d", port)
	}
	if c.NArg() > 1 {
		threads, err := strconv.Atoi(c.Args().Get(1))
		if err != nil {
			checkError(err)
		}
		cfg.Threads = threads
	}

	if c.String("c") != "" {
		checkError(config.ParseJSONConfig(&cfg, c.String("c")))
	}

	if cfg.Threads == 0 {
		cfg.Threads = int(workerpool.DefaultSize(runtime.GOMAXPROCS(0)))
		if cfg.Threads < 4 {
			cfg.Threads = 4
		}
	}

	log := logging.New(cfg.LogLevel, cfg.LogSockPath)

	if !cfg.Quiet {
		logging.Banner(VERSION, cfg.Listen)
	}

	adapter, err := buildAuthAdapter(cfg)
	checkError(err)

	srv := server.New(server.Config{
		ListenAddr:  cfg.Listen,
		MaxBodySize: uint64(cfg.MaxBodySize),
		Threads:     cfg.Threads,
		AuthAdapter: adapter,
		AuthTimeout: time.Duration(cfg.AuthTimeoutSec) * time.Second,
		Logger:      log,
	})

	// SIGINT/SIGTERM trigger graceful shutdown (spec.md §6); SIGPIPE is
	// ignored since writes already go through non-blocking queued sends.
	signal.Ignore(syscall.SIGPIPE)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		srv.Shutdown()
	}()

	return srv.Run()
}

func buildAuthAdapter(cfg config.Config) (auth.Adapter, error) {
	switch cfg.AuthMode {
	case "", "nop":
		return auth.NopAdapter{}, nil
	case "net":
		return auth.NewNetAdapter(cfg.AuthNetAddr, time.Duration(cfg.AuthTimeoutSec)*time.Second), nil
	case "mysql":
		return auth.OpenGormMySQLAdapter(cfg.MySQLDSN)
	default:
		return nil, fmt.Errorf("unknown auth-mode %q", cfg.AuthMode)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
