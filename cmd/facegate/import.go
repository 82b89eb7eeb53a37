package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/auth"
	"github.com/hyperjump/facegate/internal/cli"
	"github.com/hyperjump/facegate/internal/embedding"
	"github.com/hyperjump/facegate/internal/watcher"
)

var importCmd = &cobra.Command{
	Use:   "import <directory>",
	Short: "Enroll every image in a directory",
	Long: `Enroll every image in a directory, one identity per file. The user ID is the
file name without its extension. Files are enrolled in name order, so of two
photos of the same face the first one wins and the second is reported as a duplicate.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// importSummary counts enrollment outcomes by status.
type importSummary struct {
	Total      int      `json:"total"`
	Registered int      `json:"registered"`
	Exists     int      `json:"exists"`
	Duplicate  int      `json:"duplicate"`
	NoFace     int      `json:"no_face"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

func (s *importSummary) record(path string, err error) {
	switch {
	case err == nil:
		s.Registered++
		return
	case errors.Is(err, auth.ErrUserExists):
		s.Exists++
		return
	case errors.Is(err, auth.ErrDuplicateFace):
		s.Duplicate++
	case errors.Is(err, embedding.ErrNoFaceDetected):
		s.NoFace++
	default:
		s.Failed++
	}
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", filepath.Base(path), err))
}

func (s *importSummary) write(w io.Writer) {
	fmt.Fprintf(w, "\nImported %d of %d files\n", s.Registered, s.Total)
	fmt.Fprintf(w, "  Already enrolled: %d\n", s.Exists)
	fmt.Fprintf(w, "  Duplicate faces:  %d\n", s.Duplicate)
	fmt.Fprintf(w, "  No face:          %d\n", s.NoFace)
	fmt.Fprintf(w, "  Failed:           %d\n", s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

// listImages returns the files directly under dir whose extension is in extensions, in name order.
func listImages(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if allowed[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func newImportProgressBar(count int, format cli.OutputFormat) *progressbar.ProgressBar {
	if format == cli.OutputJSON {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func runImport(cmd *cobra.Command, args []string) error {
	format, err := output()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return withComponents(ctx, func(c *Components) error {
		files, err := listImages(args[0], c.Config.Inbox.Extensions)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", args[0], err)
		}
		summary := importFiles(ctx, c, files, newImportProgressBar(len(files), format))
		if format == cli.OutputJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		summary.write(cmd.OutOrStdout())
		return nil
	})
}

func importFiles(ctx context.Context, c *Components, files []string, bar *progressbar.ProgressBar) *importSummary {
	summary := &importSummary{Total: len(files)}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		err := importFile(ctx, c.Auth, path)
		summary.record(path, err)
		if err != nil {
			c.Logger.Debug("import: skipped file", zap.String("path", path), zap.Error(err))
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return summary
}

func importFile(ctx context.Context, svc *auth.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	meta := map[string]interface{}{"source": "import", "file": filepath.Base(path)}
	_, err = svc.Enroll(ctx, watcher.UserIDFromPath(path), data, meta)
	return err
}
