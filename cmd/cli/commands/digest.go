package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/relief-coordination/pkg/core/services"
)

// DigestCmd creates the digest command
func DigestCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Remind owners of needs nobody has answered and mail the coordinators",
		Long: `Runs the stale need digest when the configured schedule says one is due.
Safe to run from cron on every agent: only one agent sends each digest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			if app.Cfg.Digest == nil {
				return fmt.Errorf("no digest section in relief_config.%s.yaml", app.Env)
			}

			var mail services.GmailClient
			if len(app.Cfg.Digest.Recipients) > 0 {
				client, err := app.GmailClient()
				if err != nil {
					return err
				}
				mail = client
			}

			result, err := services.SendStaleNeedDigest(
				app.Ctx,
				app.Store,
				app.Registry,
				app.Sink,
				mail,
				app.Cfg,
				app.Logger,
				time.Now(),
				force,
			)
			if err != nil {
				return err
			}

			// Display results
			switch {
			case !result.Due:
				fmt.Printf("\nDigest not due. Last sent %s, next at %s.\n\n",
					result.LastSent.Local().Format(time.DateTime),
					result.NextAt.Local().Format(time.DateTime))
				return nil
			case result.ClaimedElsewhere:
				fmt.Println("\nDigest already sent by another agent.")
				return nil
			}

			fmt.Printf("\n✓ Digest completed!\n\n")

			if len(result.Stale) == 0 {
				fmt.Println("No needs are waiting for help.")
				fmt.Println()
				return nil
			}

			now := time.Now()
			fmt.Printf("Needs waiting for help (%d):\n", len(result.Stale))
			for _, res := range result.Stale {
				fmt.Printf("  - %s  %s\n", res.ID, resourceLine(res, now))
			}
			fmt.Println()

			fmt.Printf("Owners reminded: %d\n", len(result.Reminded))
			if len(result.FailedReminders) > 0 {
				fmt.Printf("⚠️  Failed to remind %d owners:\n", len(result.FailedReminders))
				for _, fr := range result.FailedReminders {
					fmt.Printf("  ✗ %s (%s): %s\n", fr.OwnerID, fr.ResourceID, fr.Error)
				}
			}

			if len(result.Emailed) > 0 {
				fmt.Printf("Digest emailed to %d coordinators:\n", len(result.Emailed))
				for _, to := range result.Emailed {
					fmt.Printf("  ✓ %s\n", to)
				}
			}
			if len(result.FailedEmails) > 0 {
				fmt.Printf("⚠️  Failed to send %d digest emails:\n", len(result.FailedEmails))
				for _, fe := range result.FailedEmails {
					fmt.Printf("  ✗ %s: %s\n", fe.Recipient, fe.Error)
				}
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Send now regardless of the schedule")

	return cmd
}
