package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go1090/internal/app"
	"go1090/internal/ingest"
	"go1090/internal/store"
)

func buildRootCommand() *cobra.Command {
	var config app.Config

	rootCmd := &cobra.Command{
		Use:   "go1090",
		Short: "ADS-B / Mode S receiver pipeline",
		Long: `go1090 demodulates 1090 MHz Mode S / ADS-B traffic from an RTL-SDR
device, a raw I/Q capture file, or a Beast-format TCP feed, validates each
frame's CRC, decodes it, tracks aircraft state, and writes BaseStation
(SBS-1) output — optionally persisting sightings to a local SQLite store.

Example usage:
  go1090 --frequency 1090000000 --sample-rate 2000000 --gain 40 --device 0
  go1090 --iq-file capture.bin --db ./capture.db
  go1090 --beast 127.0.0.1:30005`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.ShowVersion {
				app.ShowVersion()
				return nil
			}

			application := app.NewApplication(config)
			return application.Start()
		},
	}

	rootCmd.Flags().Uint32VarP(&config.Frequency, "frequency", "f", app.DefaultFrequency, "Frequency to tune to (Hz)")
	rootCmd.Flags().Uint32VarP(&config.SampleRate, "sample-rate", "s", app.DefaultSampleRate, "Sample rate (Hz)")
	rootCmd.Flags().IntVarP(&config.Gain, "gain", "g", app.DefaultGain, "Gain setting (0 for auto)")
	rootCmd.Flags().IntVarP(&config.DeviceIndex, "device", "d", 0, "RTL-SDR device index")
	rootCmd.Flags().StringVar(&config.IQFile, "iq-file", "", "Read raw I/Q samples from a file instead of an RTL-SDR device")
	rootCmd.Flags().StringVar(&config.Beast, "beast", "", "Ingest an additional Beast-format TCP feed (host:port)")
	rootCmd.Flags().StringVarP(&config.LogDir, "log-dir", "l", "./logs", "Log directory")
	rootCmd.Flags().BoolVarP(&config.LogRotateUTC, "utc", "u", true, "Use UTC for log rotation")
	rootCmd.Flags().StringVar(&config.DBPath, "db", "", "SQLite path to persist sightings; empty disables persistence")
	rootCmd.Flags().DurationVar(&config.StaleAfter, "stale-after", app.DefaultStaleAfter, "Drop aircraft not heard from in this long")
	rootCmd.Flags().DurationVar(&config.MinPositionInterval, "min-position-interval", app.DefaultMinPositionInterval, "Minimum spacing between emitted position updates (CPR pairing uses its own fixed 10s window)")
	rootCmd.Flags().BoolVarP(&config.Verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.Flags().BoolVar(&config.ShowVersion, "version", false, "Show version information")

	rootCmd.AddCommand(buildServeCommand())

	return rootCmd
}

func buildServeCommand() *cobra.Command {
	var (
		addr           string
		dbPath         string
		pgHost         string
		pgPort         int
		pgDatabase     string
		pgUser         string
		pgPassword     string
		pgSSLMode      string
		tokensRaw      string
		staleAfter     time.Duration
		minPosInterval time.Duration
		offlineTimeout time.Duration
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the multi-receiver ingest HTTP service",
		Long: `serve accepts Mode S hex frames over HTTP from any number of remote
receivers, each isolated behind its own tracker and address cache, and
persists decoded sightings to a shared Store (SQLite or Postgres).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.StandardLogger()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			var backend store.Store
			var err error
			switch {
			case pgHost != "":
				backend, err = store.OpenPostgres(cmd.Context(), store.PostgresConfig{
					Host:     pgHost,
					Port:     pgPort,
					Database: pgDatabase,
					User:     pgUser,
					Password: pgPassword,
					SSLMode:  pgSSLMode,
				})
			case dbPath != "":
				backend, err = store.OpenSQLite(dbPath)
			default:
				return fmt.Errorf("serve requires --db or --postgres-host")
			}
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer backend.Close()

			var tokens []string
			if tokensRaw != "" {
				tokens = strings.Split(tokensRaw, ",")
			}

			svc := ingest.New(backend, ingest.Config{
				Tokens:              tokens,
				MinPositionInterval: minPosInterval,
				StaleAfter:          staleAfter,
				OfflineTimeout:      offlineTimeout,
				Logger:              logger,
			})

			logger.WithField("addr", addr).Info("ingest service listening")
			return http.ListenAndServe(addr, svc.Router())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path for the shared Store")
	cmd.Flags().StringVar(&pgHost, "postgres-host", "", "Postgres host for the shared Store (overrides --db)")
	cmd.Flags().IntVar(&pgPort, "postgres-port", 5432, "Postgres port")
	cmd.Flags().StringVar(&pgDatabase, "postgres-database", "go1090", "Postgres database name")
	cmd.Flags().StringVar(&pgUser, "postgres-user", "go1090", "Postgres user")
	cmd.Flags().StringVar(&pgPassword, "postgres-password", "", "Postgres password")
	cmd.Flags().StringVar(&pgSSLMode, "postgres-sslmode", "disable", "Postgres SSL mode")
	cmd.Flags().StringVar(&tokensRaw, "token", "", "Comma-separated Bearer tokens accepted from feeders; empty disables auth")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", app.DefaultStaleAfter, "Drop aircraft not heard from in this long")
	cmd.Flags().DurationVar(&minPosInterval, "min-position-interval", app.DefaultMinPositionInterval, "Minimum spacing between emitted position updates (CPR pairing uses its own fixed 10s window)")
	cmd.Flags().DurationVar(&offlineTimeout, "offline-timeout", ingest.OfflineTimeout, "How long a feeder may go quiet before being reported offline")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	return cmd
}

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
