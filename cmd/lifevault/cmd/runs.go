package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/textutil"
)

// maxRunErrorRunes bounds the ERROR column of the runs table.
const maxRunErrorRunes = 60

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent import runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No import runs.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tSTARTED\tDURATION\tDIRECTORY\tERROR")
		for _, r := range runs {
			dur := "-"
			if r.FinishedAt.Valid {
				dur = r.FinishedAt.Time.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				strconv.FormatInt(r.ID, 10), r.Source, r.Status,
				r.StartedAt.Local().Format("2006-01-02 15:04"), dur, r.Directory, runErrorSummary(r.ErrorMessage))
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

// runErrorSummary shortens a stored error message to one table cell.
func runErrorSummary(msg string) string {
	return textutil.TruncateRunes(textutil.FirstLine(msg), maxRunErrorRunes)
}
