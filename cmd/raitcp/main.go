// Command raitcp runs one side (left or right) of a mirrored TCP link.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/muhammadmahdiamirpour/raitcp/internal/config"
	"github.com/muhammadmahdiamirpour/raitcp/internal/reactor"
	"github.com/muhammadmahdiamirpour/raitcp/internal/stats"
	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

var opt struct {
	Help        bool
	MetricsAddr string
	NoClear     bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVar(&opt.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled if empty)")
	pflag.BoolVar(&opt.NoClear, "no-clear", false, "Don't clear the screen between status updates")
}

func main() {
	pflag.Parse()

	if opt.Help || pflag.NArg() < 1 || pflag.NArg() > 2 {
		fmt.Printf("usage: %s [options] (left|right) [env_file]\n\noptions:\n%s\nnote: if env_file is omitted, config is read from the process environment\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	side, ok := wire.ParseSide(pflag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "error: side must be \"left\" or \"right\", got %q\n", pflag.Arg(0))
		os.Exit(1)
	}

	var envFile string
	if pflag.NArg() == 2 {
		envFile = pflag.Arg(1)
	}

	cfg, err := config.Load(envFile, side)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger()
	log.Info().Stringer("side", side).Uint16("listen_port", cfg.ListenPort).Int("endpoints", len(cfg.Endpoints)).Msg("starting raitcp")

	rep := stats.NewReporter(os.Stdout, !opt.NoClear)
	if opt.MetricsAddr != "" {
		go serveMetrics(rep, opt.MetricsAddr, log)
	}

	eng := reactor.New(cfg, log, rep)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: run engine: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if config.DebugEnabled() {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func serveMetrics(rep *stats.Reporter, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		rep.WritePrometheus(w)
	})
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

