package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
	"github.com/jakechorley/relief-coordination/pkg/core/services"
)

// BoardCmd creates the board command
func BoardCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show your dashboard: what you can act on, your posts and your responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := services.ViewBoard(
				app.Ctx,
				app.Registry,
				app.Coordinator,
				app.Sink,
				app.Logger,
				app.Actor,
				app.BoardOptions(),
			)
			if err != nil {
				return err
			}

			printBoard(os.Stdout, view.Board, view.Unread, time.Now())
			fmt.Println()
			return nil
		},
	}
}

// ListCmd creates the list command
func ListCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources on the board, urgent and newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, _ := cmd.Flags().GetString("type")
			category, _ := cmd.Flags().GetString("category")
			status, _ := cmd.Flags().GetString("status")
			mine, _ := cmd.Flags().GetBool("mine")
			urgent, _ := cmd.Flags().GetBool("urgent")
			all, _ := cmd.Flags().GetBool("all")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := registry.Filter{
				Type:          model.ResourceType(strings.ToLower(resourceType)),
				Category:      model.Category(strings.ToLower(category)),
				Status:        model.ResourceStatus(strings.ToLower(status)),
				ExcludeClosed: !all && status == "",
				UrgentOnly:    urgent,
				Limit:         limit,
			}
			if filter.Type != "" && !filter.Type.IsValid() {
				return fmt.Errorf("type must be need or offer, got: %s", resourceType)
			}
			if mine {
				if !app.Actor.IsAuthenticated() {
					return model.ErrUnauthenticated
				}
				filter.OwnerID = app.Actor.ID
			}

			app.Logger.Debug("list command",
				zap.String("type", resourceType),
				zap.String("category", category),
				zap.String("status", status),
				zap.Bool("mine", mine))

			resources, err := app.Registry.List(app.Ctx, filter)
			if err != nil {
				return err
			}

			if len(resources) == 0 {
				fmt.Println("\nNothing matches.")
				return nil
			}

			now := time.Now()
			fmt.Printf("\nFound %d resources:\n\n", len(resources))
			for _, res := range resources {
				fmt.Printf("- %s  %s\n", res.ID, resourceLine(res, now))
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringP("type", "t", "", "Only needs or only offers")
	cmd.Flags().StringP("category", "c", "", "Only this category")
	cmd.Flags().StringP("status", "s", "", "Only this status (open, addressing, closed)")
	cmd.Flags().Bool("mine", false, "Only resources you posted")
	cmd.Flags().BoolP("urgent", "u", false, "Only urgent resources")
	cmd.Flags().Bool("all", false, "Include closed resources")
	cmd.Flags().IntP("limit", "n", 0, "Maximum number to show (0 for all)")

	return cmd
}
