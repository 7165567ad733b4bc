package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-intel/internal/detection"
	"github.com/heimdex/heimdex-intel/internal/export"
	"github.com/heimdex/heimdex-intel/internal/logging"
	"github.com/heimdex/heimdex-intel/internal/session"
)

type analyzeOptions struct {
	jsonOutput bool
	vttPath    string
}

type analyzeResult struct {
	File           string                `json:"file"`
	MIMEType       string                `json:"mime_type"`
	Narrative      string                `json:"narrative"`
	Detections     []detection.Detection `json:"detections"`
	UniqueEntities int                   `json:"unique_entities"`
}

func analyzeCommand(a *app) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze one video file and print the narrative and detections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyze(cmd.Context(), args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	cmd.Flags().StringVar(&opts.vttPath, "vtt", "", "also write a WebVTT detection track to this path")
	return cmd
}

func (a *app) analyze(parent context.Context, path string, opts *analyzeOptions, out io.Writer) error {
	if !session.IsVideoFile(path) {
		a.logger.Warn("file extension is not a known video type; relying on content sniffing", "path", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	client, _, err := a.analysisClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := uuid.NewString()
	ctrl := session.NewController(id, session.Options{
		Client:          client,
		Logger:          logging.WithSessionID(logging.WithComponent(a.logger, "session"), id),
		MaxMediaBytes:   a.cfg.UploadMaxBytes(),
		AnalysisTimeout: a.cfg.AnalysisTimeout(),
	})
	defer ctrl.Close()

	name := filepath.Base(path)
	if err := ctrl.Upload(ctx, name, "", f); err != nil {
		return err
	}

	snap, err := ctrl.Wait(ctx)
	if err != nil {
		return fmt.Errorf("analysis interrupted: %w", err)
	}
	if snap.State != session.StateActive {
		if snap.Error == "" {
			return errors.New("analysis did not complete")
		}
		return errors.New(snap.Error)
	}

	if opts.vttPath != "" {
		if err := os.WriteFile(opts.vttPath, []byte(export.GenerateVTT(snap.Detections)), 0o644); err != nil {
			return fmt.Errorf("failed to write track: %w", err)
		}
		a.logger.Info("detection track written", "path", opts.vttPath, "cues", len(snap.Detections))
	}

	result := analyzeResult{
		File:           name,
		MIMEType:       snap.MIMEType,
		Narrative:      snap.Narrative,
		Detections:     snap.Detections,
		UniqueEntities: snap.UniqueEntities,
	}
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printResult(out, result)
}

func printResult(w io.Writer, r analyzeResult) error {
	fmt.Fprintf(w, "%s (%s)\n\n", r.File, r.MIMEType)
	if r.Narrative != "" {
		fmt.Fprintf(w, "%s\n\n", r.Narrative)
	}
	fmt.Fprintf(w, "%d detections, %d unique entities\n", len(r.Detections), r.UniqueEntities)
	for _, d := range r.Detections {
		flag := ""
		if d.Sentiment == detection.SentimentBad {
			flag = "  [bad]"
		}
		b := d.Box
		_, err := fmt.Fprintf(w, "  %8.2fs  %-24s  %-8s  [%4.0f %4.0f %4.0f %4.0f]%s\n",
			d.Timestamp, d.Label, detection.Category(d), b[0], b[1], b[2], b[3], flag)
		if err != nil {
			return err
		}
	}
	return nil
}
