package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/poiclip/internal/bootstrap"
	"github.com/maauso/poiclip/internal/compare"
	"github.com/maauso/poiclip/internal/poi"
)

func newVerifyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Score one voice clip or face image against a POI's references",
		Example: `  poiclip verify --voice clip.wav --poi "Jane Doe"
  poiclip verify --face frame.jpg --poi "Jane Doe"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.verify(cmd)
		},
	}

	cmd.Flags().String("voice", "", "WAV clip to score against every reference audio clip")
	cmd.Flags().String("face", "", "Image to verify against the reference image")
	cmd.Flags().String("poi", "", "POI display name")
	cmd.Flags().String("method", string(compare.MethodMax), "Aggregation of reference scores: max or mean")
	cmd.MarkFlagsMutuallyExclusive("voice", "face")
	cmd.MarkFlagsOneRequired("voice", "face")
	_ = cmd.MarkFlagRequired("poi")
	return cmd
}

func (a *app) verify(cmd *cobra.Command) error {
	voiceClip, _ := cmd.Flags().GetString("voice")
	faceImage, _ := cmd.Flags().GetString("face")
	displayName, _ := cmd.Flags().GetString("poi")
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

	if voiceClip != "" {
		return a.verifyVoice(cmd, deps, name, voiceClip, method)
	}
	return a.verifyFace(cmd, deps, name, faceImage)
}

func (a *app) verifyVoice(cmd *cobra.Command, deps *bootstrap.Dependencies, name, clipPath string, method compare.Method) error {
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
	ctx, cancel := withCallTimeout(cmd, a.cfg.OracleTimeout)
	defer cancel()

	res, err := scorer.Score(ctx, clipPath, refs)
	if err != nil && !errors.Is(err, compare.ErrNoScores) {
		return err
	}

	out := cmd.OutOrStdout()
	printReferences(out, res.References)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s score: %.4f (threshold %.4f) -> %s\n",
		method, res.Score, a.cfg.VoiceThreshold, verdict(res.Score >= a.cfg.VoiceThreshold))
	return nil
}

func (a *app) verifyFace(cmd *cobra.Command, deps *bootstrap.Dependencies, name, imagePath string) error {
	images, err := deps.Layout.ReferenceImages(name)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("%w: %s", poi.ErrNoReferenceImage, name)
	}

	ctx, cancel := withCallTimeout(cmd, a.cfg.OracleTimeout)
	defer cancel()

	same, err := deps.Face.Verify(ctx, images[0], imagePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s vs %s -> %s\n", imagePath, images[0], verdict(same))
	return nil
}

// withCallTimeout bounds a command's service calls. Zero disables the bound.
func withCallTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), d)
}

func printReferences(w io.Writer, refs []compare.Reference) {
	for _, r := range refs {
		if r.Err != nil {
			fmt.Fprintf(w, "  %s: unscorable (%v)\n", r.Path, r.Err)
			continue
		}
		fmt.Fprintf(w, "  %s: %.4f %s\n", r.Path, r.Score, verdict(r.Same))
	}
}

func verdict(ok bool) string {
	if ok {
		return "MATCH"
	}
	return "NO MATCH"
}
