package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"futures-bot/internal/logger"
	"futures-bot/internal/server"
	"futures-bot/internal/tradelog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	shutdownSystem()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "futures-bot",
		Short: "futures-bot - automated crypto futures trading",
		Long: `futures-bot analyzes perpetual futures markets with technical strategies or an AI oracle,
gates every decision through portfolio risk checks, executes approved trades exactly once,
and closes positions on stop-loss or take-profit.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeSystem()
		},
	}

	// Add subcommands
	rootCmd.AddCommand(newRunCmd(&cfgPath))
	rootCmd.AddCommand(newAnalyzeCmd(&cfgPath))
	rootCmd.AddCommand(newExecuteCmd(&cfgPath))
	rootCmd.AddCommand(newMonitorCmd(&cfgPath))
	rootCmd.AddCommand(newServeCmd(&cfgPath))
	rootCmd.AddCommand(newReportCmd(&cfgPath))

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Configuration file path")

	return rootCmd
}

// newRunCmd starts the scheduler and, when enabled, the operator API
func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := tradelog.CompressOlder(a.cfg.LogRetentionDays); err != nil {
				logger.ErrorWithErr(ctx, "Audit log compression failed", err)
			}
			// Warm the cache so the first analysis does not defer.
			if err := a.scheduler.RunFetch(ctx); err != nil {
				logger.Warn(ctx, "Initial market data fetch incomplete", "error", err.Error())
			}
			if err := a.scheduler.Register(); err != nil {
				return err
			}
			a.scheduler.Start()

			var srv *server.Server
			if a.cfg.Server.Enabled {
				srv = a.newServer()
				go func() {
					if err := srv.Start(); err != nil {
						logger.ErrorWithErr(ctx, "API server stopped", err)
					}
				}()
			}

			logger.Info(ctx, "Bot started")
			<-ctx.Done()
			logger.Info(context.Background(), "Shutting down...")

			a.scheduler.Stop()
			if srv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(sctx); err != nil {
					logger.ErrorWithErr(sctx, "API server shutdown failed", err)
				}
			}
			return nil
		},
	}
}

// newAnalyzeCmd runs one decision cycle for a symbol
func newAnalyzeCmd(cfgPath *string) *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "analyze [SYMBOL]",
		Short: "Run one analysis cycle for a symbol",
		Long: `Fetch market data, build a snapshot, decide and gate it, and persist the decision.
Example: futures-bot analyze BTCUSDT --execute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			symbol := args[0]
			if err := a.fetcher.Fetch(ctx, symbol, a.timeframes); err != nil {
				return err
			}
			if !execute {
				res, err := a.engine.Analyze(ctx, symbol)
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			res, exec, err := a.scheduler.Cycle(ctx, symbol)
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if exec != nil {
				fmt.Println(exec.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "Execute the decision if the risk gate approves it")

	return cmd
}

// newExecuteCmd executes a persisted decision with retries
func newExecuteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "execute [DECISION_ID]",
		Short: "Execute a stored decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.scheduler.Execute(ctx, args[0])
			fmt.Println(res.String())
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}
}

// newMonitorCmd checks open trades once, or cancels one
func newMonitorCmd(cfgPath *string) *cobra.Command {
	var cancelID string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Check open trades against stop-loss and take-profit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if cancelID != "" {
				t, err := a.monitor.Cancel(ctx, cancelID)
				if err != nil {
					return err
				}
				return printJSON(t)
			}
			for _, r := range a.scheduler.RunMonitor(ctx) {
				line := fmt.Sprintf("%s %s %s price=%.4f", r.TradeID, r.Symbol, r.Outcome, r.Price)
				if r.Reason != "" {
					line += " reason=" + string(r.Reason)
				}
				if r.Err != nil {
					line += " error=" + r.Err.Error()
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cancelID, "cancel", "", "Cancel the open trade with this id instead of checking")

	return cmd
}

// newServeCmd starts only the operator API
func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := a.newServer()
			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
}

// newReportCmd writes the end-of-day report for a UTC date
func newReportCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report [DATE]",
		Short: "Write the end-of-day CSV of closed trades",
		Long: `Write the closed-trade summary for a UTC date in YYYY-MM-DD format (yesterday if not provided).
Example: futures-bot report 2026-10-14`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().UTC().AddDate(0, 0, -1)
			if len(args) == 1 {
				d, err := time.Parse("2006-01-02", args[0])
				if err != nil {
					return fmt.Errorf("invalid date %q: %w", args[0], err)
				}
				day = d
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := a.reporter.SummarizeDay(ctx, day)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("No closed trades on", day.Format("2006-01-02"))
				return nil
			}
			fmt.Println("EOD CSV written:", path)
			return nil
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
