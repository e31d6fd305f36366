package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"pdfsearch/internal/app"
	"pdfsearch/internal/config"
	"pdfsearch/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg      *config.Config
		log      *slog.Logger
		logLevel string
	)

	root := &cobra.Command{
		Use:          "pdfsearch",
		Short:        "Upload, screen, index and query PDF documents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log = logger.New(os.Stdout, cfg.LogLevel)
			slog.SetDefault(log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the ingestion worker and the inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, log); err != nil {
				slog.Error("server failed", "error", err)
				return err
			}
			return nil
		},
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex <dir>",
		Short: "Scan and index every PDF in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, log, func(ctx context.Context, a *app.App) error {
				results, err := a.Ingester.Reindex(ctx, args[0])
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-16s %d chunks\n", r.FileName, r.Status, r.ChunkCount)
				}
				return err
			})
		},
	}

	var askFile string
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed PDFs, or ask about one with --file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd.Context(), cfg, log, func(ctx context.Context, a *app.App) error {
				if askFile != "" {
					answer, err := a.Retriever.Answer(ctx, askFile, query)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), answer)
					return nil
				}

				results, err := a.Retriever.Search(ctx, query)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
					return nil
				}
				for i, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "Result %d (Score: %.2f):\nFile: %s\n%s\n\n", i+1, r.Score, r.FileName, r.Snippet)
				}
				return nil
			})
		},
	}
	searchCmd.Flags().StringVarP(&askFile, "file", "f", "", "answer the query from this uploaded file")

	root.AddCommand(serveCmd, reindexCmd, searchCmd)
	return root
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	return withApp(ctx, cfg, log, func(ctx context.Context, a *app.App) error {
		err := a.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func withApp(ctx context.Context, cfg *config.Config, log *slog.Logger, fn func(context.Context, *app.App) error) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var pub app.TaskPublisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	}

	a, err := app.New(cfg, deps.DB, deps.Documents, deps.VectorStore, pub, log, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close clients", "error", err)
		}
	}()

	return fn(ctx, a)
}
