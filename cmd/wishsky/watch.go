package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/interfaces/http/client"
	"github.com/emmanuelquintana/christmas/pkg/utils"
)

func newWatchCmd(a *app) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "watch <username>",
		Short: "Print wishes as they arrive in a remote sky",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := utils.ParseUsername(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			remote := client.NewWishClient(a.cfg.Server, a.logger)
			logWish := func(msg string) func(entities.Wish) {
				return func(w entities.Wish) {
					a.logger.Info(msg,
						zap.String("username", username),
						zap.String("id", w.ID),
						zap.String("name", w.DisplayName()),
						zap.String("message", w.Message),
						zap.Time("created_at", w.Created()),
					)
				}
			}

			cancel, err := remote.SubscribeInserts(ctx, username, logWish("Wish arrived"))
			if err != nil {
				return err
			}
			defer cancel()

			if history > 0 {
				wishes, err := remote.FetchAll(ctx, username, history)
				if err != nil {
					return err
				}
				for _, w := range wishes {
					logWish("Wish")(w)
				}
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "print this many existing wishes first")

	return cmd
}
