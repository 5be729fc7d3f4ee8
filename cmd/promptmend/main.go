// Command promptmend runs the prompt optimization service and a one-shot CLI
// mode for optimizing a single prompt from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/optimizer"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/server"
	"github.com/dhollinger/promptmend/session"
	"github.com/dhollinger/promptmend/store"
	"github.com/dhollinger/promptmend/utils"
)

var (
	cfg    *config.Config
	logger utils.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promptmend",
		Short: "Iterative prompt optimization against local or hosted model backends",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger = utils.NewLogger(cfg.LogLevel)
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		optimizeCmd(),
		healthCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildSelector constructs the process-wide backend fallback chain from the
// configured ordered backend list.
func buildSelector() (*backend.Selector, error) {
	registry := providers.NewProviderRegistry()
	clients := make([]*backend.Client, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		provider, err := registry.Get(name, cfg.APIKeys[name], cfg.Model, nil)
		if err != nil {
			return nil, err
		}
		clients = append(clients, backend.NewClient(provider, cfg, logger))
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	return backend.NewSelector(logger, clients...), nil
}

func buildRunner(st session.Store, selector *backend.Selector) (*session.Manager, *session.Runner) {
	mgr := session.NewManager(st, logger, cfg.MaxPromptChars)
	runner := session.NewRunner(mgr, selector, logger)
	if cfg.RateInterval > 0 {
		runner.SetRateLimiter(rate.NewLimiter(rate.Every(cfg.RateInterval), 1))
	}
	return mgr, runner
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the optimization HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, err := buildSelector()
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			mgr, runner := buildRunner(st, selector)
			srv := server.New(mgr, runner, selector, logger)

			logger.Info("Serving", "addr", cfg.ListenAddr, "backends", cfg.Backends)
			return srv.Start(cfg.ListenAddr)
		},
	}
}

func optimizeCmd() *cobra.Command {
	var (
		domain      string
		advanced    bool
		iterations  int
		rounds      int
		temperature float64
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "optimize [prompt]",
		Short: "Optimize a single prompt and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, err := buildSelector()
			if err != nil {
				return err
			}

			optCfg := optimizer.QuickConfig()
			if advanced {
				optCfg = optimizer.AdvancedConfig()
				if iterations > 0 {
					optCfg.Iterations = iterations
				}
				if rounds > 0 {
					optCfg.Rounds = rounds
				}
			}
			optCfg.ContextDomain = domain
			optCfg.TargetScore = cfg.TargetScore
			if cmd.Flags().Changed("temperature") {
				optCfg.Temperature = &temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				optCfg.MaxTokens = &maxTokens
			}

			if err := session.ValidatePrompt(args[0], cfg.MaxPromptChars); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), session.DefaultSessionTimeout)
			defer cancel()

			loop := optimizer.NewRefinementLoop(selector, logger, optCfg,
				optimizer.WithStageCallback(func(stage optimizer.Stage, detail string) {
					if detail != "" {
						fmt.Fprintf(os.Stderr, "... %s\n", detail)
					}
				}),
			)

			start := time.Now()
			outcome, err := loop.Run(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Optimized prompt (%.0f/100, %d candidates, %s):\n\n%s\n\n",
				outcome.Final.Scores.Overall, len(outcome.Records), time.Since(start).Round(time.Second), outcome.Final.BestPrompt)
			fmt.Println("Improvements:")
			for _, imp := range outcome.Final.Improvements {
				fmt.Printf("  - %s\n", imp)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Context domain hint (e.g. marketing)")
	cmd.Flags().BoolVar(&advanced, "advanced", false, "Run multi-iteration refinement")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Iterations in advanced mode")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "Rounds per iteration in advanced mode")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature for this run")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum output tokens per generation call")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, err := buildSelector()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()

			statuses := selector.Health(ctx)
			out, err := json.MarshalIndent(statuses, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
