// Command forwarder runs a single connectionless datagram/ICMP forwarding
// hop: it binds a listen endpoint, forwards each client's traffic to a
// configured remote endpoint over a private upstream socket, and reaps
// idle peers on a timer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nstun/forwarder/db/statsdb"
	"github.com/nstun/forwarder/pkg/endpoint"
	"github.com/nstun/forwarder/pkg/engine"
	"github.com/nstun/forwarder/web"
)

var opt struct {
	Listen       string
	Remote       string
	Passphrase   string
	ReapInterval time.Duration
	StatsDB      string
	DebugAddr    string
	LogLevel     string
	Reflect      bool
	Help         bool
}

func init() {
	pflag.StringVarP(&opt.Listen, "listen-uri", "l", "", "Listen endpoint (ip:port[/udp|/icmp])")
	pflag.StringVarP(&opt.Remote, "remote-uri", "r", "", "Remote endpoint to forward to (ip:port[/udp|/icmp])")
	pflag.StringVarP(&opt.Passphrase, "passphrase", "p", "", "Obfuscation passphrase for this hop's wire traffic")
	pflag.DurationVar(&opt.ReapInterval, "reap-interval", engine.DefaultReapInterval, "Idle peer reap interval")
	pflag.StringVar(&opt.StatsDB, "stats-db", "", "Optional sqlite3 path to record periodic diagnostics snapshots")
	pflag.StringVar(&opt.DebugAddr, "debug-addr", "", "Optional address for the insecure debug HTTP server (status page, /metrics, /debug/pprof/)")
	pflag.StringVar(&opt.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error); defaults to info, or FORWARDER_LOG_LEVEL if set")
	pflag.BoolVar(&opt.Reflect, "reflect", false, "Answer ICMP carrier traffic with ECHO-REPLY (tagged) instead of ECHO-REQUEST")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help || opt.Listen == "" || opt.Remote == "" {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, FORWARDER_LOG_LEVEL from it takes precedence over the process environment\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var envFile []string
	if pflag.NArg() == 1 {
		var err error
		if envFile, err = readEnv(pflag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	level := opt.LogLevel
	if level == "" {
		if v, ok := getEnvList("FORWARDER_LOG_LEVEL", envFile, os.Environ()); ok {
			level = v
		} else {
			level = "info"
		}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse log level: %v\n", err)
		os.Exit(2)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	listen, err := endpoint.Parse(opt.Listen)
	if err != nil {
		log.Error().Err(err).Msg("invalid listen endpoint")
		os.Exit(2)
	}
	remote, err := endpoint.Parse(opt.Remote)
	if err != nil {
		log.Error().Err(err).Msg("invalid remote endpoint")
		os.Exit(2)
	}

	var recorder statsdb.Recorder = statsdb.NoopRecorder{}
	if opt.StatsDB != "" {
		db, err := openStatsDB(opt.StatsDB)
		if err != nil {
			log.Error().Err(err).Msg("open stats db")
			os.Exit(1)
		}
		defer db.Close()
		recorder = db
	}

	e, err := engine.New(engine.Config{
		Listen:       listen,
		Remote:       remote,
		Passphrase:   opt.Passphrase,
		ReapInterval: opt.ReapInterval,
		Recorder:     recorder,
		Logger:       log,
		Reflect:      opt.Reflect,
	})
	if err != nil {
		log.Error().Err(err).Msg("initialize engine")
		os.Exit(1)
	}

	if opt.DebugAddr != "" {
		go serveDebug(log, e)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Stringer("listen", e.ListenAddr()).Str("remote", remote.String()).Msg("forwarder started")

	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// A fatal activity exit is not recoverable in-process (§5): log and
		// terminate rather than attempt to resume with unknown state.
		log.Error().Err(err).Msg("engine run failed")
		panic(err)
	}
}

func openStatsDB(path string) (*statsdb.DB, error) {
	db, err := statsdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: %w", err)
	}
	if cur, to, err := db.Version(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite3: migrate: %w", err)
	} else if cur > to {
		db.Close()
		return nil, fmt.Errorf("sqlite3: migrate: database version %d is too new", cur)
	} else if cur != to {
		if err := db.MigrateUp(context.Background(), to); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite3: migrate (%d to %d): %w", cur, to, err)
		}
	}
	return db, nil
}

func serveDebug(log zerolog.Logger, e *engine.Engine) {
	mux := http.NewServeMux()
	mux.Handle("/", web.Handler(func() web.Status {
		s := e.Snapshot()
		return web.Status{
			Listen:       s.Listen,
			Remote:       s.Remote,
			PeerCount:    s.PeerCount,
			CreatedTotal: s.CreatedTotal,
			ReapedTotal:  s.ReapedTotal,
		}
	}))
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		e.WritePrometheus(w)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	log.Warn().Str("addr", opt.DebugAddr).Msg("running insecure debug server")
	if err := http.ListenAndServe(opt.DebugAddr, mux); err != nil {
		log.Warn().Err(err).Msg("debug server failed")
	}
}

func getEnvList(k string, e ...[]string) (string, bool) {
	for _, l := range e {
		for _, x := range l {
			if xk, xv, ok := strings.Cut(x, "="); ok && xk == k {
				return xv, true
			}
		}
	}
	return "", false
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
