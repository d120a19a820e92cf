// Package cli implements the poiclip command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maauso/poiclip/internal/bootstrap"
	"github.com/maauso/poiclip/internal/config"
)

// app carries state shared by the subcommands once the root command has
// loaded the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Main runs the command line and exits with status 1 on error.
func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the poiclip command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "poiclip",
		Short:         "Extract speech clips of persons of interest from recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	root.AddCommand(
		newRunCommand(a),
		newVerifyCommand(a),
		newScanCommand(a),
	)
	return root
}

// load reads the configuration from the environment and installs the
// configured logger as the slog default.
func (a *app) load() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger()
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) dependencies(ctx context.Context) (*bootstrap.Dependencies, error) {
	deps, err := bootstrap.NewDependencies(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initialize dependencies: %w", err)
	}
	return deps, nil
}
