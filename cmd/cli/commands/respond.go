package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/coordinator"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/services"
)

// RespondCmd creates the respond command
func RespondCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "respond <resource_id>",
		Short: "Offer to help with a need, or request an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.Respond(app.Ctx, app.Coordinator, app.Logger, app.Actor, args[0])
			if err != nil {
				if model.IsSomeoneElseHelping(err) {
					fmt.Printf("\n⚠️  Someone else is already helping with this.\n\n")
					return nil
				}
				return err
			}

			switch result.Outcome {
			case coordinator.OutcomeCreated:
				fmt.Printf("\n✓ %s\n\n", result.Message)
			case coordinator.OutcomeDuplicateIgnored:
				fmt.Printf("\n%s\n\n", result.Message)
			default:
				fmt.Printf("\n⚠️  %s\n", result.Message)
				if result.Resource.AssignedName != "" {
					fmt.Printf("Assigned to: %s\n", result.Resource.AssignedName)
				}
				fmt.Println()
			}

			return nil
		},
	}
}

// StatusCmd creates the status command
func StatusCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <resource_id> <pending|accepted|rejected>",
		Short: "Update the status of your response to a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := model.ResponseStatus(strings.ToLower(args[1]))
			if !status.IsValid() {
				return fmt.Errorf("status must be pending, accepted or rejected, got: %s", args[1])
			}

			resp, err := services.UpdateResponseStatus(app.Ctx, app.Coordinator, app.Logger, app.Actor, args[0], status)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Response to %q is now %s\n\n", resp.Title, resp.Status)
			return nil
		},
	}
}

// ResponsesCmd creates the responses command
func ResponsesCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "responses",
		Short: "List your own responses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.Actor.IsAuthenticated() {
				return model.ErrUnauthenticated
			}

			responses, err := app.Coordinator.ResponsesFor(app.Ctx, app.Actor.ID)
			if err != nil {
				return err
			}
			app.Logger.Debug("Responses fetched", zap.Int("count", len(responses)))

			if len(responses) == 0 {
				fmt.Println("\nYou have not responded to anything yet.")
				return nil
			}

			now := time.Now()
			fmt.Printf("\nYour responses (%d):\n\n", len(responses))
			for _, r := range responses {
				fmt.Printf("- %s  %s (%s) [%s] %s %s\n",
					r.RequestID,
					r.Title,
					r.Category,
					r.Kind,
					r.Status,
					colorDim+formatAge(now.Sub(r.Time))+colorReset,
				)
			}
			fmt.Println()

			return nil
		},
	}
}

// RespondersCmd creates the responders command
func RespondersCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "responders <resource_id>",
		Short: "List who responded to one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.ViewResponders(app.Ctx, app.Registry, app.Coordinator, app.Actor, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\nResponders to %q (%d):\n", result.Resource.Title, len(result.Responders))
			if len(result.Responders) == 0 {
				fmt.Println("  none yet")
			}
			for _, id := range result.Responders {
				marker := " "
				if id == result.Resource.AssignedTo {
					marker = "*"
				}
				fmt.Printf(" %s %s\n", marker, id)
			}
			fmt.Println()

			return nil
		},
	}
}

// ReindexCmd creates the reindex command
func ReindexCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the responder index from every user's responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			added, err := services.Reindex(app.Ctx, app.Coordinator, app.Logger)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Responder index rebuilt (%d entries added)\n\n", added)
			return nil
		},
	}
}
