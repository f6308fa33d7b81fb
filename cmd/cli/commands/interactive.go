package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/events"
)

// InteractiveCmd creates the interactive command
func InteractiveCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Start an interactive session (open the store once, run multiple commands)",
		Long: `Start an interactive session where you can run multiple commands against one open store.
Use 'signin <id> <role> [name]', 'role <role>' and 'signout' to change who you act as.
The session will keep running until you type 'exit' or 'quit'.

Type 'help' to see available commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("\n🚀 Starting interactive session...")
			fmt.Println("Type 'help' for available commands, 'exit' or 'quit' to leave")

			// Get all sibling commands (excluding interactive itself)
			rootCmd := cmd.Parent()
			commands := make(map[string]*cobra.Command)
			for _, subCmd := range rootCmd.Commands() {
				if subCmd.Name() != "interactive" && subCmd.Name() != "completion" && subCmd.Name() != "help" && subCmd.Name() != "watch" {
					commands[subCmd.Name()] = subCmd
				}
			}

			// Announce changes made by other agents while the session is open
			relayCtx, cancel := context.WithCancel(app.Ctx)
			defer cancel()
			go events.Relay(relayCtx, app.Store, app.Bus, app.Logger)
			unsubscribe := app.Bus.Subscribe(events.ResourceUpdated, func(e events.Event) {
				if e.Remote {
					fmt.Printf("\n%s• %s changed by another agent%s\n> ", colorDim, e.EntityID, colorReset)
				}
			})
			defer unsubscribe()

			scanner := bufio.NewScanner(os.Stdin)

			for {
				fmt.Print(prompt(app.Actor))

				if !scanner.Scan() {
					break
				}

				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				// Parse command (respecting quotes)
				parts, err := parseCommandLine(line)
				if err != nil {
					fmt.Printf("❌ Error parsing command: %v\n\n", err)
					continue
				}
				if len(parts) == 0 {
					continue
				}
				cmdName := parts[0]
				cmdArgs := parts[1:]

				// Handle exit
				if cmdName == "exit" || cmdName == "quit" {
					fmt.Println("👋 Goodbye!")
					return nil
				}

				// Handle help
				if cmdName == "help" {
					printInteractiveHelp(commands)
					continue
				}

				// Handle session commands
				if handled, err := runSessionCommand(app, cmdName, cmdArgs); handled {
					if err != nil {
						fmt.Printf("❌ Error: %v\n\n", err)
					}
					continue
				}

				// Execute command via Cobra
				targetCmd, exists := commands[cmdName]
				if !exists {
					fmt.Printf("❌ Unknown command: %s (type 'help' for available commands)\n\n", cmdName)
					continue
				}

				// Reset command flags and args
				targetCmd.Flags().VisitAll(func(flag *pflag.Flag) {
					flag.Changed = false
					flag.Value.Set(flag.DefValue)
				})

				// Execute the command's RunE directly, bypassing the full Execute() flow
				// This avoids re-running PersistentPreRunE which would reopen the store
				if err := targetCmd.ParseFlags(cmdArgs); err != nil {
					fmt.Printf("❌ Error parsing flags: %v\n\n", err)
					continue
				}

				// Get non-flag args after parsing flags
				cmdArgs = targetCmd.Flags().Args()

				// Validate args
				if err := targetCmd.Args(targetCmd, cmdArgs); err != nil {
					fmt.Printf("❌ Error: %v\n\n", err)
					continue
				}

				// Execute the RunE function directly
				if targetCmd.RunE != nil {
					if err := targetCmd.RunE(targetCmd, cmdArgs); err != nil {
						fmt.Printf("❌ Error: %v\n\n", err)
					}
				} else if targetCmd.Run != nil {
					targetCmd.Run(targetCmd, cmdArgs)
				}
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("error reading input: %w", err)
			}

			return nil
		},
	}

	return cmd
}

// runSessionCommand handles signin, signout and role. It reports false for
// any other command.
func runSessionCommand(app *AppContext, name string, args []string) (bool, error) {
	switch name {
	case "signin":
		if len(args) < 2 || len(args) > 3 {
			return true, fmt.Errorf("usage: signin <id> <role> [name]")
		}
		role, err := model.ParseRole(args[1])
		if err != nil {
			return true, err
		}
		actor := model.Actor{ID: args[0], Role: role}
		if len(args) == 3 {
			actor.Name = args[2]
		}
		app.Actor = actor
		app.Bus.Publish(events.Event{Name: events.AuthChanged, Kind: events.KindSession, EntityID: actor.ID, Actor: actor, At: time.Now()})
		fmt.Printf("✓ Signed in as %s (%s)\n\n", actor.DisplayName(), actor.Role)
		return true, nil

	case "signout":
		previous := app.Actor
		app.Actor = model.Actor{}
		app.Bus.Publish(events.Event{Name: events.AuthChanged, Kind: events.KindSession, EntityID: previous.ID, At: time.Now()})
		fmt.Printf("✓ Signed out\n\n")
		return true, nil

	case "role":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: role <victim|volunteer|ngo|government>")
		}
		if !app.Actor.IsAuthenticated() {
			return true, model.ErrUnauthenticated
		}
		role, err := model.ParseRole(args[0])
		if err != nil {
			return true, err
		}
		app.Actor.Role = role
		app.Bus.Publish(events.Event{Name: events.RoleChanged, Kind: events.KindSession, EntityID: app.Actor.ID, Actor: app.Actor, At: time.Now()})
		fmt.Printf("✓ Now acting as %s\n\n", role)
		return true, nil
	}
	return false, nil
}

func prompt(actor model.Actor) string {
	if !actor.IsAuthenticated() {
		return "> "
	}
	return fmt.Sprintf("%s (%s)> ", actor.DisplayName(), actor.Role)
}

func printInteractiveHelp(commands map[string]*cobra.Command) {
	fmt.Println("\nAvailable commands:")

	// Get command names and sort them
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	// Print each command with its short description
	for _, name := range names {
		cmd := commands[name]
		fmt.Printf("  %-45s %s\n", cmd.Use, cmd.Short)
	}

	fmt.Println("\n  signin <id> <role> [name]                     Act as another user")
	fmt.Println("  role <role>                                   Switch your role")
	fmt.Println("  signout                                       Stop acting as anyone")
	fmt.Println("  help                                          Show this help message")
	fmt.Println("  exit, quit                                    Exit the interactive session")
}

// parseCommandLine splits a command line into arguments, respecting quoted strings
// Supports both single and double quotes
func parseCommandLine(line string) ([]string, error) {
	var args []string
	var current strings.Builder
	var inQuote rune // 0 if not in quote, '"' or '\'' if in quote

	for _, r := range line {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			inQuote = r
		case unicode.IsSpace(r):
			// Whitespace outside quotes ends the current argument
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if inQuote != 0 {
		return nil, fmt.Errorf("unclosed quote: %c", inQuote)
	}

	// Add final argument if present
	if current.Len() > 0 {
		args = append(args, current.String())
	}

	return args, nil
}
