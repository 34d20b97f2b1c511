// Command idp-gateway runs a Master+Router over TCP and, optionally, a set
// of local serial adaptors, exposing Prometheus metrics and a JSON/CSV
// node-tree dump for operators.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/klauspost/compress/gzip"
	"github.com/m-lab/go/rtx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/idpnet/idp/internal/config"
	"github.com/idpnet/idp/pkg/idp/export"
	"github.com/idpnet/idp/pkg/idp/metrics"
	"github.com/idpnet/idp/pkg/idp/tracelog"
)

var opt struct {
	Help bool
}

// gzipResponseWriter transparently compresses a handler's output when the
// client advertises gzip support, the same opt-in compression atlas offers
// its larger dumps.
func gzipResponseWriter(w http.ResponseWriter, r *http.Request) (out http.ResponseWriter, close func()) {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return w, func() {}
	}
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	return &gzipWriter{ResponseWriter: w, gz: gz}, func() { gz.Close() }
}

type gzipWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		f, err := os.Open(pflag.Arg(0))
		rtx.Must(err, "open env file")
		defer f.Close()
		vars, err := envparse.Parse(f)
		rtx.Must(err, "parse env file")
		for k, v := range vars {
			e = append(e, k+"="+v)
		}
	}

	var c config.Config
	if err := c.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(c.LogLevel)

	trace, err := tracelog.Open(5 * time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open trace log: %v\n", err)
		os.Exit(1)
	}
	defer trace.Close()
	log.Logger = log.Logger.Hook(tracelog.Hook{Log: trace})

	log.Info().Str("listen", c.ListenAddr).Str("metrics", c.MetricsAddr).Msg("starting idp-gateway")

	mset := metrics.New()

	gw, err := NewGateway(&c, mset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize gateway: %v\n", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		mset.WritePrometheus(w)
	})
	mux.HandleFunc("/trace", func(w http.ResponseWriter, r *http.Request) {
		lines, err := trace.Recent("log")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	})
	mux.HandleFunc("/nodes.json", func(w http.ResponseWriter, r *http.Request) {
		records := export.Flatten(gw.Master)
		mset.SetNetworkSize(uint64(len(records)))
		w.Header().Set("Content-Type", "application/json")
		out, close := gzipResponseWriter(w, r)
		defer close()
		if err := export.WriteJSON(out, records); err != nil {
			log.Error().Err(err).Msg("write nodes.json")
		}
	})
	mux.HandleFunc("/nodes.csv", func(w http.ResponseWriter, r *http.Request) {
		records := export.Flatten(gw.Master)
		mset.SetNetworkSize(uint64(len(records)))
		w.Header().Set("Content-Type", "text/csv")
		out, close := gzipResponseWriter(w, r)
		defer close()
		if err := export.WriteCSV(out, records); err != nil {
			log.Error().Err(err).Msg("write nodes.csv")
		}
	})
	go func() {
		if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: run gateway: %v\n", err)
		os.Exit(1)
	}
}
