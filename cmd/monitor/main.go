// Command monitor runs the standalone Monitoring Service (spec §4.8): a
// read-mostly HTTP dashboard over the Analytical Store's ledger tables.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/exchange-ingest/internal/analyticalstore"
	"github.com/withObsrvr/exchange-ingest/internal/config"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
	"github.com/withObsrvr/exchange-ingest/internal/monitor"
	"github.com/withObsrvr/exchange-ingest/internal/remoteledger"
)

func main() {
	var (
		configPath string
		port       int
		dbPath     string
	)

	root := &cobra.Command{
		Use:   "monitor",
		Short: "Run the exchange-ingest read-mostly monitoring dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Monitor.Port = port
			}
			if dbPath != "" {
				cfg.Store.Path = dbPath
			}

			log := logging.New("monitor", false)
			ctx := context.Background()

			var remote *remoteledger.Store
			if cfg.Remote.RemoteConfigured() {
				remote = remoteledger.Open(ctx, remoteledger.Config{
					Host: cfg.Remote.Host, Port: cfg.Remote.Port,
					User: cfg.Remote.User, Password: cfg.Remote.Password, Database: cfg.Remote.Database,
				}, log)
				defer remote.Close()
			} else {
				log.Warn().Msg("remote ledger credentials not configured; no fallback read path if the analytical store is locked")
			}

			store, err := openReadOnlyStore(ctx, cfg.Store.Path, log)
			if store != nil {
				defer store.Close()
			}
			if store == nil && (remote == nil || !remote.Enabled()) {
				return fmt.Errorf("monitor: analytical store unavailable (%v) and no remote ledger fallback configured", err)
			}

			srv := monitor.New(store, remote, cfg.Shutdown.RendezvousPath, log)

			addr := fmt.Sprintf(":%d", cfg.Monitor.Port)
			log.Info().Str("addr", addr).Msg("monitoring service listening")
			return http.ListenAndServe(addr, srv.Router())
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.Flags().IntVar(&port, "port", 0, "HTTP port (default 12345, or from config)")
	root.Flags().StringVar(&dbPath, "db-path", "", "path to the Analytical Store file (default from config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openReadOnlyStore opens the Analytical Store in DuckDB's concurrent-read
// mode. A running Job Runner holds the file's exclusive single-writer lock
// for its whole lifetime, so the read-only open here can genuinely fail
// while ingestion is in progress (spec §4.8) — that is reported, not
// treated as fatal, so the caller can fall back to the Remote Ledger
// Store's Postgres mirror instead.
func openReadOnlyStore(ctx context.Context, path string, log *logging.ComponentLogger) (*analyticalstore.Store, error) {
	store, err := analyticalstore.Open(path, true, log)
	if err != nil {
		log.Warn().Err(err).Msg("analytical store read-only open failed, falling back to remote ledger store")
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		log.Warn().Err(err).Msg("analytical store is locked by another process, falling back to remote ledger store")
		return nil, err
	}
	return store, nil
}
