// Command ingest is the Job Runner CLI (spec §6): it dispatches the
// Ingestion Worker across exchanges for one date or a date range, and
// exposes the Shutdown Coordinator's rendezvous-file operations.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/exchange-ingest/internal/analyticalstore"
	"github.com/withObsrvr/exchange-ingest/internal/config"
	"github.com/withObsrvr/exchange-ingest/internal/domain"
	"github.com/withObsrvr/exchange-ingest/internal/ledger"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
	"github.com/withObsrvr/exchange-ingest/internal/objectstore"
	"github.com/withObsrvr/exchange-ingest/internal/remoteledger"
	"github.com/withObsrvr/exchange-ingest/internal/runner"
	"github.com/withObsrvr/exchange-ingest/internal/shutdown"
	"github.com/withObsrvr/exchange-ingest/internal/worker"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		configPath         string
		dateStr            string
		startDateStr       string
		endDateStr         string
		exchangeCodes      []string
		idempotent         bool
		verbose            bool
		createShutdownFile bool
		removeShutdownFile bool
		checkShutdownFile  bool
	)

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Run the exchange-ingest Job Runner for a date or date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if checkShutdownFile {
				if shutdown.FileExists(cfg.Shutdown.RendezvousPath) {
					os.Exit(1)
				}
				os.Exit(0)
			}
			if createShutdownFile {
				if err := shutdown.CreateRendezvousFile(cfg.Shutdown.RendezvousPath); err != nil {
					return err
				}
				os.Exit(0)
			}
			if removeShutdownFile {
				if err := shutdown.RemoveRendezvousFile(cfg.Shutdown.RendezvousPath); err != nil {
					return err
				}
				os.Exit(0)
			}

			start, end, err := resolveDateRange(dateStr, startDateStr, endDateStr)
			if err != nil {
				return err
			}

			exchanges, err := parseExchanges(exchangeCodes)
			if err != nil {
				return err
			}

			log := logging.New("job_runner", verbose)

			objects, err := objectstore.NewClient(cmd.Context(), objectstore.Config{
				Bucket:         cfg.ObjectStore.Bucket,
				RootPrefix:     cfg.ObjectStore.RootPrefix,
				Vendor:         cfg.ObjectStore.Vendor,
				Product:        cfg.ObjectStore.Product,
				Region:         cfg.ObjectStore.Region,
				Endpoint:       cfg.ObjectStore.Endpoint,
				RequestTimeout: cfg.ObjectStore.RequestTimeout(),
			})
			if err != nil {
				return fmt.Errorf("ingest: object store client: %w", err)
			}

			store, err := analyticalstore.Open(cfg.Store.Path, false, log)
			if err != nil {
				return fmt.Errorf("ingest: open analytical store: %w", err)
			}
			defer store.Close()

			if err := store.InitSchema(cmd.Context()); err != nil {
				return fmt.Errorf("ingest: init schema: %w", err)
			}

			var remote *remoteledger.Store
			if cfg.Remote.RemoteConfigured() {
				remote = remoteledger.Open(cmd.Context(), remoteledger.Config{
					Host: cfg.Remote.Host, Port: cfg.Remote.Port,
					User: cfg.Remote.User, Password: cfg.Remote.Password, Database: cfg.Remote.Database,
				}, log)
				remote.EnsureSchema(cmd.Context())
				defer remote.Close()
			} else {
				log.Warn().Msg("remote ledger credentials not configured; remote mirroring disabled")
			}

			led := ledger.New(store, remote, log).WithStaleThreshold(cfg.Ledger.StaleThreshold())
			w := worker.New(objects, store, led, log)
			r := runner.New(w, led, log)

			coord := shutdown.New(cfg.Shutdown.RendezvousPath, log)
			coord.Start()
			defer coord.Stop()

			ok := r.Run(cmd.Context(), runner.Options{
				StartDate:  start,
				EndDate:    end,
				Exchanges:  exchanges,
				Idempotent: idempotent,
			}, coord.Cancelled)

			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.Flags().StringVar(&dateStr, "date", "", "target date, YYYY-MM-DD")
	root.Flags().StringVar(&startDateStr, "start-date", "", "start of an inclusive date range, YYYY-MM-DD")
	root.Flags().StringVar(&endDateStr, "end-date", "", "end of an inclusive date range, YYYY-MM-DD")
	root.Flags().StringSliceVar(&exchangeCodes, "exchanges", nil, "subset of LSE, CME, NYQ (default: all three)")
	root.Flags().BoolVar(&idempotent, "idempotent", false, "enable already-completed-skip / other-terminal-retry claim semantics")
	root.Flags().BoolVar(&idempotent, "resume", false, "alias for --idempotent")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "more detailed log output")
	root.Flags().BoolVar(&createShutdownFile, "create-shutdown-file", false, "create the rendezvous file and exit")
	root.Flags().BoolVar(&removeShutdownFile, "remove-shutdown-file", false, "remove the rendezvous file and exit")
	root.Flags().BoolVar(&checkShutdownFile, "check-shutdown-file", false, "exit 0 if absent, 1 if present")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveDateRange(dateStr, startStr, endStr string) (time.Time, time.Time, error) {
	if dateStr != "" {
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("ingest: --date: %w", err)
		}
		return d, d, nil
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("ingest: either --date or both --start-date and --end-date are required")
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("ingest: --start-date: %w", err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("ingest: --end-date: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("ingest: --end-date is before --start-date")
	}
	return start, end, nil
}

func parseExchanges(codes []string) ([]domain.Exchange, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	out := make([]domain.Exchange, 0, len(codes))
	for _, c := range codes {
		e, ok := domain.ParseExchange(c)
		if !ok {
			return nil, fmt.Errorf("ingest: unknown exchange %q", c)
		}
		out = append(out, e)
	}
	return out, nil
}
