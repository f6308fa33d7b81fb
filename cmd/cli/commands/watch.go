package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/board"
	"github.com/jakechorley/relief-coordination/pkg/events"
)

// WatchCmd creates the watch command
func WatchCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep your board on screen and redraw it whenever anyone changes it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			relayErr := make(chan error, 1)
			go func() {
				relayErr <- events.Relay(ctx, app.Store, app.Bus, app.Logger)
			}()

			watcher := board.NewWatcher(
				ctx,
				app.Bus,
				app.Registry,
				app.Coordinator,
				app.Actor,
				app.BoardOptions(),
				app.Logger,
				func(b *board.Board) { redraw(app, b) },
			)
			defer watcher.Stop()

			if err := watcher.Refresh(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				fmt.Println("\n👋 Stopped watching")
				return nil
			case err := <-relayErr:
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("change feed stopped: %w", err)
				}
				return nil
			}
		},
	}
}

func redraw(app *AppContext, b *board.Board) {
	unread := 0
	if b.Actor.IsAuthenticated() {
		n, err := app.Sink.UnreadCount(app.Ctx, b.Actor.ID)
		if err != nil {
			app.Logger.Warn("Failed to count notifications", zap.Error(err))
		}
		unread = n
	}

	now := time.Now()
	fmt.Print("\033[H\033[2J")
	printBoard(os.Stdout, b, unread, now)
	fmt.Printf("\n%sUpdated %s. Ctrl-C to stop.%s\n", colorDim, now.Format(time.TimeOnly), colorReset)
}
