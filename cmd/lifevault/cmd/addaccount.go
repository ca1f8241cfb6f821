package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/config"
	"github.com/wesm/lifevault/internal/oauth"
	"github.com/wesm/lifevault/internal/scheduler"
)

var (
	headless        bool
	forceReauth     bool
	accountSchedule string
	accountLabels   []string
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account <email>",
	Short: "Authorize a Gmail account for import",
	Long: `Authorize read-only access to a Gmail account and add it to the config.

By default a browser is opened for authorization. With --headless, the
authorization URL is printed so it can be completed on another machine.

Examples:
  lifevault add-account you@gmail.com
  lifevault add-account you@gmail.com --schedule "0 2 * * *" --label INBOX
  lifevault add-account you@gmail.com --headless`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		if accountSchedule != "" {
			if err := scheduler.ValidateCronExpr(accountSchedule); err != nil {
				return err
			}
		}
		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
		if err != nil {
			return err
		}

		if forceReauth {
			if err := mgr.DeleteToken(email); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
		}
		if mgr.HasToken(email) {
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s is already authorized (use --force to re-authorize).\n", email)
		} else if err := mgr.Authorize(cmd.Context(), email, headless); err != nil {
			return fmt.Errorf("authorize %s: %w", email, err)
		}

		if !upsertAccount(cfg, email, accountSchedule, accountLabels) {
			return nil
		}
		if err := cfg.Save(configPath()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account %s saved to %s\n", email, configPath())
		return nil
	},
}

// upsertAccount adds or updates the account entry. It reports whether the
// config changed.
func upsertAccount(c *config.Config, email, schedule string, labels []string) bool {
	acc := c.Account(email)
	if acc == nil {
		c.Accounts = append(c.Accounts, config.AccountConfig{
			Email:    email,
			Schedule: schedule,
			Enabled:  schedule != "",
			Labels:   labels,
		})
		return true
	}
	changed := false
	if schedule != "" && schedule != acc.Schedule {
		acc.Schedule = schedule
		acc.Enabled = true
		changed = true
	}
	if len(labels) > 0 {
		acc.Labels = labels
		changed = true
	}
	return changed
}

func init() {
	addAccountCmd.Flags().BoolVar(&headless, "headless", false, "complete authorization on another machine")
	addAccountCmd.Flags().BoolVar(&forceReauth, "force", false, "delete the existing token and re-authorize")
	addAccountCmd.Flags().StringVar(&accountSchedule, "schedule", "", "cron schedule for new-only imports")
	addAccountCmd.Flags().StringSliceVar(&accountLabels, "label", nil, "labels to import (default: all)")
	rootCmd.AddCommand(addAccountCmd)
}
