package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/store"
)

var deleteMediaCmd = &cobra.Command{
	Use:   "delete-media <id>...",
	Short: "Delete media items from the archive",
	Long: `Delete media items by id. Image data shared with other items is kept
until its last item is deleted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil || id < 1 {
				return fmt.Errorf("invalid media id %q", a)
			}
			ids = append(ids, id)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var errs []error
		for _, id := range ids {
			if err := s.DeleteMediaItem(cmd.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					errs = append(errs, fmt.Errorf("media item %d not found", id))
					continue
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted media item %d\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(deleteMediaCmd)
}
