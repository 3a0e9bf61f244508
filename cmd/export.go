package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/export"
)

var (
	format        string
	outputDir     string
	exportOffline bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the conversation to a file",
	Long: `Export the current conversation to jsonl, md, yaml or json.

The conversation is synced from the service first; with --offline (or when
the service is unreachable) the cached transcript is exported. The file is
written to <out>/session_<id>.<ext>; use --out - to write to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.loadTranscript(ctx, exportOffline)
		if errors.Is(err, errNoSession) {
			return fmt.Errorf("nothing to export: %w", err)
		}
		if err != nil {
			return err
		}

		if outputDir == "-" {
			if err := exporter.Export(t, cmd.OutOrStdout()); err != nil {
				return &internal.ExportError{Format: format, Err: err}
			}
			return nil
		}

		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		path := filepath.Join(outputDir, fmt.Sprintf("session_%s.%s", t.ID, exporter.Extension()))

		file, err := os.Create(path)
		if err != nil {
			return &internal.ExportError{Format: format, Path: path, Err: err}
		}
		if err := exporter.Export(t, file); err != nil {
			_ = file.Close()
			return &internal.ExportError{Format: format, Path: path, Err: err}
		}
		if err := file.Close(); err != nil {
			return &internal.ExportError{Format: format, Path: path, Err: err}
		}

		internal.PrintSuccess(fmt.Sprintf("Exported %d message(s) to %s", len(t.Messages), path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory, or - for stdout")
	exportCmd.Flags().BoolVar(&exportOffline, "offline", false, "Export the cached transcript without contacting the service")
}
