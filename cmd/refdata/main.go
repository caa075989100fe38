package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opusatlas/refdata/internal/pipeline"
	"github.com/opusatlas/refdata/pkg/clients"
	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/extract"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/keyiter"
	"github.com/opusatlas/refdata/pkg/logger"
	"github.com/opusatlas/refdata/pkg/sink"
)

var version = "0.1.0"

type runFlags struct {
	Sources     []string
	Categories  []string
	Keys        string
	SinkName    string
	SinkOpts    []string
	Resume      []string
	Preferred   []string
	Overlay     string
	DryRun      bool
	LogLevel    string
	MetricsAddr string
}

func main() {
	// .env is optional; site credentials and DSNs live there in development
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "refdata",
		Short: "Refdata - classical music catalog ingestion engine",
		Long: `Refdata aggregates catalog listings (composers, compositions, performers)
from multiple external reference sites into one canonical entity set,
merging identities across sources and emitting to a configurable sink.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Refdata v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newListCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources, categories and sinks",
		Run: func(cmd *cobra.Command, args []string) {
			registry := config.BuiltIn()
			fmt.Println("Sources:")
			for _, src := range registry.Sources() {
				fmt.Printf("  - %s (%s)\n", src.ID, src.Name)
				for _, name := range src.CategoryNames() {
					cat, _ := src.Category(name)
					fmt.Printf("      %s  loader=%s keys=%s\n", name, cat.Loader, src.DfltKeys)
				}
			}
			fmt.Println("\nSinks:")
			for _, name := range sink.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	}
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an ingestion pass over the selected sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestion(flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.Sources, "sources", nil, "source ids to ingest (default: all)")
	cmd.Flags().StringSliceVar(&flags.Categories, "categories", nil, "category names to ingest (default: all)")
	cmd.Flags().StringVar(&flags.Keys, "keys", "", "explicit key selection: single key, comma list, or range (a-f, 3-12)")
	cmd.Flags().StringVar(&flags.SinkName, "sink", "jsonl", "destination sink ("+strings.Join(sink.List(), ", ")+")")
	cmd.Flags().StringSliceVar(&flags.SinkOpts, "sink-opt", nil, "sink option as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&flags.Resume, "resume", nil, "resume cursor as source/category=key (repeatable)")
	cmd.Flags().StringSliceVar(&flags.Preferred, "preferred", nil, "source precedence for merge tie-breaks, most trusted first")
	cmd.Flags().StringVar(&flags.Overlay, "config", "", "YAML source overlay file")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "materialize and log requests without fetching")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func runIngestion(flags *runFlags) error {
	if err := logger.Init(logger.Config{Level: flags.LogLevel, Encoding: "json"}); err != nil {
		return err
	}
	log := logger.Get()
	defer logger.Sync()

	registry := config.BuiltIn()
	if flags.Overlay != "" {
		if err := registry.LoadOverlay(flags.Overlay); err != nil {
			return err
		}
	}
	if err := registry.Validate(extract.Known); err != nil {
		return err
	}

	resume, err := parseResume(flags.Resume)
	if err != nil {
		return err
	}
	sinkOpts, err := parseKeyValues(flags.SinkOpts)
	if err != nil {
		return err
	}

	dest, err := sink.Create(flags.SinkName, sinkOpts, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.MetricsAddr != "" {
		go serveMetrics(flags.MetricsAddr, log)
	}

	if !flags.DryRun {
		if err := dest.Open(ctx); err != nil {
			return err
		}
		defer dest.Close(context.Background())
	}

	client := clients.NewHTTPClient(clients.DefaultHTTPConfig(), log)
	defer client.Close()
	fetcher := fetch.New(client, clients.DefaultRetryPolicy(), log)

	runner := pipeline.New(registry, fetcher, dest, log)
	summary, runErr := runner.Run(ctx, pipeline.Options{
		Sources:          flags.Sources,
		Categories:       flags.Categories,
		Keys:             flags.Keys,
		Resume:           resume,
		PreferredSources: flags.Preferred,
		DryRun:           flags.DryRun,
	})

	if summary != nil {
		fmt.Println()
		for _, line := range summary.Lines() {
			fmt.Println(line)
		}
	}
	return runErr
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

// parseResume parses "source/category=key" cursor flags.
func parseResume(specs []string) (map[string]keyiter.Key, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]keyiter.Key, len(specs))
	for _, spec := range specs {
		target, key, ok := strings.Cut(spec, "=")
		if !ok || !strings.Contains(target, "/") || key == "" {
			return nil, fmt.Errorf("invalid resume cursor %q (want source/category=key)", spec)
		}
		out[target] = key
	}
	return out, nil
}

func parseKeyValues(specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		k, v, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid option %q (want key=value)", spec)
		}
		out[k] = v
	}
	return out, nil
}
