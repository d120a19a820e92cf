package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/poiclip/internal/pipeline"
	"github.com/maauso/poiclip/internal/poi"
)

func newRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every POI of a roster",
		Long: `Process every POI listed in a roster CSV. POIs whose output folder
already exists are skipped, so an interrupted run can simply be restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd)
		},
	}

	cmd.Flags().StringP("file", "f", "", "Roster CSV, resolved against POI_FOLDER")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().Int("workers", 0, "POIs processed concurrently (overrides WORKERS)")
	cmd.Flags().Bool("no-progress", false, "Disable progress bars")
	return cmd
}

func (a *app) run(cmd *cobra.Command) error {
	file, _ := cmd.Flags().GetString("file")
	workers, _ := cmd.Flags().GetInt("workers")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	if workers > 0 {
		a.cfg.Workers = workers
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roster, err := poi.ReadRosterFile(a.cfg.RosterPath(file))
	if err != nil {
		return err
	}
	for _, row := range roster.Skipped {
		a.logger.Warn("roster row skipped",
			slog.Int("line", row.Line),
			slog.String("name", row.Name),
			slog.String("reason", row.Reason),
		)
	}
	if roster.HasURLs {
		for _, e := range roster.Entries {
			if len(e.URLs) == 0 {
				a.logger.Warn("roster row lists no media urls",
					slog.Int("line", e.Line),
					slog.String("name", e.Name),
				)
			}
		}
	}

	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("starting poiclip",
		slog.String("roster", a.cfg.RosterPath(file)),
		slog.Int("pois", len(roster.Entries)),
		slog.String("config", a.cfg.String()),
	)

	var opts []pipeline.Option
	var bars *progress
	if !noProgress {
		bars = newProgress(ctx, cmd.ErrOrStderr(), len(roster.Entries))
		opts = append(opts, pipeline.WithObserver(bars))
	}

	report, err := deps.NewDriver(opts...).Run(ctx, roster.Entries)
	if bars != nil {
		bars.Wait()
	}
	report.Print(cmd.OutOrStdout())

	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}
