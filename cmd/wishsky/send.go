package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/scene"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/infrastructure/di"
	"github.com/emmanuelquintana/christmas/interfaces/http/client"
	"github.com/emmanuelquintana/christmas/pkg/utils"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		name    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <username> <message>",
		Short: "Send a wish to a remote sky",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := utils.ParseUsername(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return a.send(ctx, username, entities.Submission{Name: name, Message: args[1]})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "author shown under the star")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")

	return cmd
}

// send runs a headless scene against the remote server so the wish takes
// the same path as one thrown from a browser.
func (a *app) send(ctx context.Context, username string, sub entities.Submission) error {
	remote := client.NewWishClient(a.cfg.Server, a.logger)
	orch := scene.NewOrchestrator(remote, a.logger, di.SceneOptions(a.cfg, username, true, nil))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Run(runCtx)
	}()
	defer func() {
		stop()
		<-done
	}()

	f, err := orch.Submit(ctx, sub)
	if err != nil {
		return err
	}
	if err := orch.Drain(ctx); err != nil {
		return err
	}

	a.logger.Info("Wish sent",
		zap.String("server", a.cfg.Server),
		zap.String("username", username),
		zap.String("id", f.ID),
		zap.Float64("x", f.EndPct.X),
		zap.Float64("y", f.EndPct.Y),
	)
	return nil
}
