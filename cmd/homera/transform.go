package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"homeraAi/internal/config"
	"homeraAi/internal/media"
	"homeraAi/internal/pipeline"
	"homeraAi/internal/plans"
	"homeraAi/internal/vision"
)

var (
	imageFlag   string
	promptFlag  string
	tierFlag    string
	upscaleFlag bool
	outFlag     string
	offlineFlag bool
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Interpret a request and render the transformed photo",
	RunE:  runTransform,
}

func init() {
	transformCmd.Flags().StringVarP(&imageFlag, "image", "i", "", "Source photo (JPEG, PNG, WebP)")
	transformCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "What to change, in plain language")
	transformCmd.Flags().StringVarP(&tierFlag, "tier", "t", string(plans.DefaultTier), "Plan tier: standard, premium_2k, ultra_4k, ultra_realistic_16k")
	transformCmd.Flags().BoolVar(&upscaleFlag, "upscale", false, "Smart Upscale to the tier's resolution")
	transformCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output file (default <image>-homera.<ext>)")
	transformCmd.Flags().BoolVar(&offlineFlag, "offline", false, "Only interpret with the built-in heuristic and print the plan")
}

// stderrSink prints pipeline log entries as they happen.
type stderrSink struct {
	w io.Writer
}

func (s stderrSink) PublishLog(_ string, entry pipeline.TransformationLog) {
	fmt.Fprintf(s.w, "[%s] %s: %s\n", entry.Status, entry.Title, entry.Message)
}

func runTransform(cmd *cobra.Command, args []string) error {
	tier, ok := plans.ParseTier(tierFlag)
	if !ok {
		return fmt.Errorf("unknown tier %q", tierFlag)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if offlineFlag {
		plan, err := vision.HeuristicInterpreter{}.Interpret(ctx, vision.Request{Prompt: promptFlag, Tier: string(tier), Upscale: upscaleFlag})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	}

	if imageFlag == "" {
		return errors.New("--image is required")
	}
	image, err := os.ReadFile(imageFlag)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	ai := config.AIFromEnv()
	if !ai.HasAI() {
		return errors.New("set GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT, or use --offline")
	}
	client, err := vision.NewClient(ctx, vision.ClientOptions{APIKey: ai.APIKey, Project: ai.Project, Location: ai.Location})
	if err != nil {
		return err
	}

	pipe := pipeline.New(
		vision.NewGeminiInterpreter(client, ai.InterpreterModel),
		vision.NewGeminiRenderer(client),
		stderrSink{w: cmd.ErrOrStderr()},
	)
	result, err := pipe.Run(ctx, pipeline.Submission{
		Prompt:   promptFlag,
		Tier:     string(tier),
		Upscale:  upscaleFlag,
		Image:    image,
		MIMEType: vision.DetectMIME(image, ""),
	})
	if err != nil {
		if result.Error != "" {
			return errors.New(result.Error)
		}
		return err
	}

	out := outFlag
	if out == "" {
		out = defaultOutput(imageFlag, result.Image.MIMEType)
	}
	if err := os.WriteFile(out, result.Image.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info().Str("out", out).Str("resolution", result.Plan.Payload.TargetResolution).Msg("transformation saved")
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func defaultOutput(source, mime string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	return base + "-homera" + media.ExtensionFor(mime)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
