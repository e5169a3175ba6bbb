package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"facefeed/internal/session"
)

func newWatchCommand(cc *commandContext) *cobra.Command {
	var sourceID int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start a session and print detections after every poll",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("source") {
				cc.cfg.SourceID = &sourceID
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cc, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&sourceID, "source", 0, "Capture source id (overrides CAPTURE_SOURCE_ID)")
	return cmd
}

// watch runs a session until a signal arrives or the capture ends, printing
// the reconciled detections after each successful poll.
func watch(ctx context.Context, cc *commandContext, out io.Writer) error {
	colorize := shouldColorize(out)
	var mu sync.Mutex
	view := session.ObserverFunc(func(_ context.Context, u session.Update) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, renderUpdate(u, colorize))
	})

	failed := make(chan error, 1)
	onError := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	comp, err := buildComponents(ctx, cc.cfg, cc.log, nil, onError, view)
	if err != nil {
		return err
	}
	defer comp.close()
	ctrl := comp.controller

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = ctrl.Stop(context.Background()) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}
