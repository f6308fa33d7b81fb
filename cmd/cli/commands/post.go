package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/services"
)

// PostCmd creates the post command
func PostCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <need|offer> <title>",
		Short: "Post a need or an offer to the board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, _ := cmd.Flags().GetString("category")
			description, _ := cmd.Flags().GetString("description")
			location, _ := cmd.Flags().GetString("location")
			details, _ := cmd.Flags().GetString("location-details")
			contact, _ := cmd.Flags().GetString("contact")
			contactName, _ := cmd.Flags().GetString("contact-name")
			urgent, _ := cmd.Flags().GetBool("urgent")

			in := model.NewResource{
				Type:            model.ResourceType(strings.ToLower(args[0])),
				Category:        model.Category(strings.ToLower(category)),
				Title:           args[1],
				Description:     description,
				Location:        location,
				LocationDetails: details,
				Contact:         contact,
				ContactName:     contactName,
				Urgent:          urgent,
			}

			res, err := services.PostResource(app.Ctx, app.Registry, app.Logger, app.Actor, in)
			if err != nil {
				return err
			}

			// Display results
			fmt.Printf("\n✓ %s posted successfully!\n\n", strings.ToUpper(string(res.Type[:1]))+string(res.Type[1:]))
			printResource(os.Stdout, *res)
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringP("category", "c", "", "Category: water, shelter, food, supplies, medical, safety or other")
	cmd.Flags().StringP("location", "l", "", "Where the need or offer is")
	cmd.Flags().StringP("description", "d", "", "Longer description")
	cmd.Flags().String("location-details", "", "Extra directions, e.g. building or floor")
	cmd.Flags().String("contact", "", "Contact phone or address")
	cmd.Flags().String("contact-name", "", "Name to ask for")
	cmd.Flags().BoolP("urgent", "u", false, "Mark as urgent")
	cmd.MarkFlagRequired("category")
	cmd.MarkFlagRequired("location")

	return cmd
}

// CloseCmd creates the close command
func CloseCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "close <resource_id>",
		Short: "Close one of your own needs or offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := services.CloseResource(app.Ctx, app.Registry, app.Logger, app.Actor, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Closed: %s\n\n", res.Title)
			return nil
		},
	}
}
