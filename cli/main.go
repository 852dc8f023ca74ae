package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"telemdb"
)

const iniFilename = "telemdb.ini"

type config struct {
	telemdb.Config
	Metrics struct {
		Addr string `long:"addr" env:"ADDR" description:"Address at which /metrics is served (disabled if empty)"`
	} `group:"Metrics" namespace:"metrics" env-namespace:"METRICS"`
}

func main() {
	var cfg config
	var parser = flags.NewParser(&cfg, flags.Default)
	parser.ShortDescription = "Synchronize the records of one telemdb store into another."

	mustParseConfig(parser)
	telemdb.InitLog(cfg.Log)

	var from, err = telemdb.ParseStoreKind(cfg.Sync.From)
	must(err, "parsing --sync.from")
	to, err := telemdb.ParseStoreKind(cfg.Sync.To)
	must(err, "parsing --sync.to")

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var app = telemdb.NewAppContext(cfg.Config)
	_, err = app.CaptureKind()
	must(err, "parsing --capture.kind")

	transporter, err := app.Transporter(ctx, from, to)
	must(err, "building transporter")

	if cfg.Metrics.Addr != "" {
		var mux = http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.WithField("err", err).Error("metrics server failed")
			}
		}()
	}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	log.WithFields(log.Fields{"from": from, "to": to}).Info("starting telemdb sync")
	transporter.Start(ctx)

	var sig = <-signalCh
	log.WithField("signal", sig).Info("caught signal; stopping")

	transporter.Stop()
	must(app.Close(), "closing stores")
}

// mustParseConfig parses from an optional INI file in the working directory
// or ~/.config/telemdb, then from the environment and flags.
func mustParseConfig(parser *flags.Parser) {
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var iniParser = flags.NewIniParser(parser)
	for _, prefix := range []string{".", filepath.Join(os.Getenv("HOME"), ".config", "telemdb")} {
		if err := iniParser.ParseFile(filepath.Join(prefix, iniFilename)); err == nil {
			break
		} else if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	parser.Options = origOptions

	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1) // go-flags has already printed the error.
	}
}

func must(err error, msg string) {
	if err != nil {
		log.WithField("err", err).Fatal(msg)
	}
}
