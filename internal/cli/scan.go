package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/poiclip/internal/compare"
	"github.com/maauso/poiclip/internal/poi"
)

func newScanCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Diarize a recording and score fixed windows of every turn against a POI",
		Long: `Diarize a recording, slice every turn into windows of --resolution
seconds, and print the aggregate voice score of each window against all of
the POI's reference clips. Useful to pick VOICE_THRESHOLD.`,
		Example: `  poiclip scan --audio talk.wav --poi "Jane Doe" --resolution 5 --method mean`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.scan(cmd)
		},
	}

	cmd.Flags().String("audio", "", "Recording to scan")
	cmd.Flags().String("poi", "", "POI display name")
	cmd.Flags().Float64("resolution", 5, "Window length in seconds")
	cmd.Flags().String("method", string(compare.MethodMean), "Aggregation of reference scores: max or mean")
	_ = cmd.MarkFlagRequired("audio")
	_ = cmd.MarkFlagRequired("poi")
	return cmd
}

func (a *app) scan(cmd *cobra.Command) error {
	audioPath, _ := cmd.Flags().GetString("audio")
	displayName, _ := cmd.Flags().GetString("poi")
	resolution, _ := cmd.Flags().GetFloat64("resolution")
	methodName, _ := cmd.Flags().GetString("method")

	method, err := compare.ParseMethod(methodName)
	if err != nil {
		return err
	}
	name := poi.Sanitize(displayName)
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("invalid POI name %q", displayName)
	}

	deps, err := a.dependencies(cmd.Context())
	if err != nil {
		return err
	}
	refs, err := deps.Layout.ReferenceAudio(name)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("%w: %s", poi.ErrNoReferenceAudio, name)
	}

	scorer, err := compare.NewScorer(deps.Voice, method, a.logger)
	if err != nil {
		return err
	}
	scanner, err := compare.NewScanner(deps.Diarizer, deps.Clipper, scorer, resolution)
	if err != nil {
		return err
	}

	ns, err := deps.Store.NewNamespace(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := ns.Close(); err != nil {
			a.logger.Warn("failed to remove temp namespace", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	for w, err := range scanner.Scan(ctx, audioPath, refs, ns) {
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s - %s [%s], Score: %.4f\n",
			seconds(w.Start), seconds(w.End), w.Turn.Speaker, w.Score)
	}
	return nil
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Millisecond).String()
}
