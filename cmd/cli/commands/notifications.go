package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/relief-coordination/pkg/core/services"
)

// NotificationsCmd creates the notifications command
func NotificationsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show your notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			unreadOnly, _ := cmd.Flags().GetBool("unread")

			notifications, err := services.ViewNotifications(app.Ctx, app.Sink, app.Actor, unreadOnly)
			if err != nil {
				return err
			}

			if len(notifications) == 0 {
				fmt.Println("\nNo notifications.")
				return nil
			}

			now := time.Now()
			fmt.Printf("\nNotifications (%d):\n\n", len(notifications))
			for _, n := range notifications {
				marker := colorYellow + "●" + colorReset
				if n.Read {
					marker = " "
				}
				fmt.Printf("%s %s  %s %s\n", marker, n.ID, n.Title, colorDim+formatAge(now.Sub(n.Time))+colorReset)
				fmt.Printf("    %s\n", n.Message)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().Bool("unread", false, "Only unread notifications")

	return cmd
}

// ReadCmd creates the read command
func ReadCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "read [notification_id]",
		Short: "Mark a notification as read (all of them when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = args[0]
			}

			if err := services.MarkNotificationsRead(app.Ctx, app.Sink, app.Logger, app.Actor, id); err != nil {
				return err
			}

			if id == "" {
				fmt.Printf("\n✓ All notifications marked as read\n\n")
			} else {
				fmt.Printf("\n✓ Notification %s marked as read\n\n", id)
			}
			return nil
		},
	}
}
