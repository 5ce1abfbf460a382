package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/kvreplica/kvreplica/internal/logging"
	"github.com/kvreplica/kvreplica/internal/metrics"
	"github.com/kvreplica/kvreplica/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	defaults := server.DefaultConfig()

	var (
		port        int
		replicaof   string
		dir         string
		dbFilename  string
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "kvreplica-server",
		Short: "Redis-protocol-compatible key/value server with replication",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.DefaultConfig()
			cfg.Port = port
			cfg.Dir = dir
			cfg.DBFilename = dbFilename

			if replicaof != "" {
				host, p, err := parseReplicaOf(replicaof)
				if err != nil {
					return err
				}
				cfg.ReplicaOfHost = host
				cfg.ReplicaOfPort = p
			}

			return run(cfg, logLevel, metricsAddr)
		},
	}

	cmd.Flags().IntVar(&port, "port", defaults.Port, "TCP port to listen on")
	cmd.Flags().StringVar(&replicaof, "replicaof", "", `run as a replica of "<host> <port>"`)
	cmd.Flags().StringVar(&dir, "dir", defaults.Dir, "working directory (accepted, persistence out of scope)")
	cmd.Flags().StringVar(&dbFilename, "dbfilename", defaults.DBFilename, "RDB filename (accepted, persistence out of scope)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9121", "admin HTTP listener for /metrics")

	return cmd
}

// parseReplicaOf splits the single quoted "<host> <port>" argument spec.md
// §6 requires for --replicaof.
func parseReplicaOf(raw string) (host string, port int, err error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("--replicaof expects \"<host> <port>\", got %q", raw)
	}
	p, err := strconv.Atoi(fields[1])
	if err != nil || p < 1 || p > 65535 {
		return "", 0, fmt.Errorf("--replicaof port must be 1-65535, got %q", fields[1])
	}
	return fields[0], p, nil
}

func run(cfg *server.Config, logLevel, metricsAddr string) error {
	log := logging.New(logging.Options{Stdout: true, Level: logLevel})
	defer log.Sync()

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	srv := server.New(cfg, log.Sugared(), recorder)
	metricsSrv := metrics.NewServer(metricsAddr, reg, srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return metricsSrv.Run(gctx) })

	log.Infof("kvreplica listening on %s:%d (metrics on %s)", cfg.Host, cfg.Port, metricsAddr)
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Errorf("server exited: %v", err)
		return err
	}
	return nil
}
