package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/jobs"
	"github.com/wesm/lifevault/internal/progress"
)

var (
	importUserName   string
	importExportRoot string
	importMaxImages  int
	importThumbnails bool
	importThumbSize  int
	importExclude    []string
	importAccount    string
	importLabels     []string
	importQuery      string
	importNewOnly    bool
)

var importCmd = &cobra.Command{
	Use:   "import <source> [dir...]",
	Short: "Import a data export into the archive",
	Long: `Import a data export into the archive.

Sources:
  imessage    iMessage CSV export directory
  whatsapp    WhatsApp CSV export directory
  facebook    Facebook Messenger JSON export
  instagram   Instagram messages JSON export
  albums      Facebook photo album export
  images      One or more folders of images
  gmail       A Gmail account (requires add-account)

Examples:
  lifevault import whatsapp ~/exports/whatsapp
  lifevault import facebook ~/exports/facebook-me --user-name "Jane Doe"
  lifevault import images ~/Pictures ~/Phone --thumbnails --exclude "*.raw"
  lifevault import gmail --account you@gmail.com --label INBOX --new-only`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildImportRequest(cmd, args)
		if err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		mgr, err := newJobManager(s)
		if err != nil {
			return err
		}
		if req.Source == importer.SourceGmail && cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}
		return runImport(cmd.Context(), mgr, req, cmd.OutOrStdout())
	},
}

// buildImportRequest maps arguments and flags to a job request. Flags
// that were not set leave the config defaults in place.
func buildImportRequest(cmd *cobra.Command, args []string) (jobs.Request, error) {
	src, ok := importer.ParseSource(strings.ToLower(args[0]))
	if !ok {
		names := make([]string, 0, len(importer.Sources()))
		for _, s := range importer.Sources() {
			names = append(names, string(s))
		}
		return jobs.Request{}, fmt.Errorf("unknown source %q (supported: %s)", args[0], strings.Join(names, ", "))
	}

	req := jobs.Request{
		Source:  src,
		Dirs:    args[1:],
		Account: importAccount,
		Labels:  importLabels,
		Query:   importQuery,
		NewOnly: importNewOnly,
		Options: importer.Options{
			UserName:         importUserName,
			ExportRoot:       importExportRoot,
			MaxImages:        importMaxImages,
			ExcludePatterns:  importExclude,
			CreateThumbnails: importThumbnails,
			ThumbnailSize:    importThumbSize,
		},
	}
	if src == importer.SourceGmail && req.Account == "" && len(cfg.Accounts) == 1 {
		req.Account = cfg.Accounts[0].Email
	}
	if src == importer.SourceGmail && !cmd.Flags().Changed("label") {
		if acc := cfg.Account(req.Account); acc != nil {
			req.Labels = acc.Labels
		}
	}
	return req, req.Validate()
}

// runImport starts the job, prints progress, and waits for it to finish.
// Interrupting ctx cancels the job at its next unit boundary.
func runImport(ctx context.Context, mgr *jobs.Manager, req jobs.Request, out io.Writer) error {
	t, err := mgr.Start(req)
	if err != nil {
		return err
	}
	updates, stop := t.Subscribe(64)
	defer stop()

	interrupted := false
	done := ctx.Done()
	for {
		select {
		case snap, open := <-updates:
			if !open {
				final := t.Snapshot()
				printSummary(out, final)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = mgr.Shutdown(shutdownCtx)
				return importResult(final, interrupted)
			}
			printProgress(out, snap)
		case <-done:
			interrupted = true
			done = nil
			fmt.Fprintln(os.Stderr, "\nInterrupted, stopping after the current unit...")
			_ = mgr.Cancel(string(req.Source))
		}
	}
}

func importResult(snap progress.Snapshot, interrupted bool) error {
	switch snap.Status {
	case progress.StatusError:
		return fmt.Errorf("import failed: %s", snap.Error)
	case progress.StatusCancelled:
		if interrupted {
			return context.Canceled
		}
		return fmt.Errorf("import cancelled")
	}
	return nil
}

func printProgress(out io.Writer, snap progress.Snapshot) {
	if snap.Status != progress.StatusInProgress || snap.Total == 0 {
		return
	}
	fmt.Fprintf(out, "\r[%d/%d] %-40.40s created=%d updated=%d errors=%d",
		snap.Processed, snap.Total, snap.CurrentUnit, snap.Created, snap.Updated, snap.Errors)
}

func printSummary(out io.Writer, snap progress.Snapshot) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Import %s: %s\n", snap.Source, snap.Status)
	fmt.Fprintf(out, "  Processed:           %d/%d\n", snap.Processed, snap.Total)
	fmt.Fprintf(out, "  Created:             %d\n", snap.Created)
	fmt.Fprintf(out, "  Updated:             %d\n", snap.Updated)
	fmt.Fprintf(out, "  Errors:              %d\n", snap.Errors)
	fmt.Fprintf(out, "  Missing attachments: %d\n", snap.Missing)
	if stats, ok := snap.Stats.(importer.Stats); ok {
		const maxListed = 20
		for i, name := range stats.MissingAttachmentFilenames {
			if i == maxListed {
				fmt.Fprintf(out, "    ... and %d more\n", len(stats.MissingAttachmentFilenames)-maxListed)
				break
			}
			fmt.Fprintf(out, "    %s\n", name)
		}
	}
	if snap.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", snap.Error)
	}
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importUserName, "user-name", "", "archive owner's name in Facebook/Instagram exports")
	f.StringVar(&importExportRoot, "export-root", "", "export root for attachment lookups (default: detected)")
	f.IntVar(&importMaxImages, "max-images", 0, "stop after this many images (0 = unlimited)")
	f.BoolVar(&importThumbnails, "thumbnails", false, "create thumbnails for imported images")
	f.IntVar(&importThumbSize, "thumbnail-size", 0, "thumbnail bounding box in pixels")
	f.StringSliceVar(&importExclude, "exclude", nil, "glob patterns of image files to skip")
	f.StringVar(&importAccount, "account", "", "Gmail account to import")
	f.StringSliceVar(&importLabels, "label", nil, "Gmail labels to import (default: all)")
	f.StringVar(&importQuery, "query", "", "Gmail search query to filter messages")
	f.BoolVar(&importNewOnly, "new-only", false, "skip Gmail messages imported before")
	rootCmd.AddCommand(importCmd)
}
