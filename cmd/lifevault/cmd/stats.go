package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n", cfg.DatabasePath())
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func printStats(out io.Writer, stats *store.Stats) {
	fmt.Fprintf(out, "  Messages:     %d\n", stats.MessageCount)
	services := make([]string, 0, len(stats.MessagesByService))
	for svc := range stats.MessagesByService {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		fmt.Fprintf(out, "    %-11s %d\n", svc+":", stats.MessagesByService[svc])
	}
	fmt.Fprintf(out, "  Attachments:  %d\n", stats.AttachmentCount)
	fmt.Fprintf(out, "  Emails:       %d\n", stats.EmailCount)
	fmt.Fprintf(out, "  Media items:  %d (%d unique)\n", stats.MediaItemCount, stats.MediaBlobCount)
	fmt.Fprintf(out, "  Albums:       %d (%d images)\n", stats.AlbumCount, stats.AlbumImageCount)
	fmt.Fprintf(out, "  Import runs:  %d\n", stats.ImportRunCount)
	fmt.Fprintf(out, "  Size:         %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
