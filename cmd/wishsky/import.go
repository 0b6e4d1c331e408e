package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	"github.com/emmanuelquintana/christmas/infrastructure/di"
	"github.com/emmanuelquintana/christmas/interfaces/http/client"
	"github.com/emmanuelquintana/christmas/pkg/utils"
)

// seedFile is the YAML layout accepted by import.
type seedFile struct {
	Username string     `yaml:"username"`
	Wishes   []seedWish `yaml:"wishes"`
}

type seedWish struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Message   string    `yaml:"message"`
	X         float64   `yaml:"x"`
	Y         float64   `yaml:"y"`
	CreatedAt time.Time `yaml:"created_at"`
}

func (s seedWish) wish(ids *valueobjects.WishIDGenerator, now time.Time) entities.Wish {
	w := entities.Wish{
		ID:        s.ID,
		Name:      s.Name,
		Message:   s.Message,
		X:         s.X,
		Y:         s.Y,
		CreatedAt: s.CreatedAt.UnixMilli(),
	}
	if w.ID == "" {
		w.ID = ids.New()
	}
	if s.CreatedAt.IsZero() {
		w.CreatedAt = now.UnixMilli()
	}
	return w
}

func readSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &seed, nil
}

func newImportCmd(a *app) *cobra.Command {
	var (
		username string
		remote   bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load wishes from a YAML file into a sky",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(args[0])
			if err != nil {
				return err
			}
			if username == "" {
				username = seed.Username
			}
			if username, err = utils.ParseUsername(username); err != nil {
				return err
			}

			insert, closeFn, err := a.importTarget(cmd.Context(), remote)
			if err != nil {
				return err
			}
			defer closeFn()

			ids := valueobjects.NewWishIDGenerator()
			now := time.Now()
			var created, skipped int
			for i, s := range seed.Wishes {
				w := s.wish(ids, now)
				ok, err := insert(cmd.Context(), w, username)
				if err != nil {
					return fmt.Errorf("wish %d (%s): %w", i, w.ID, err)
				}
				if ok {
					created++
				} else {
					skipped++
				}
			}

			a.logger.Info("Import finished",
				zap.String("file", args[0]),
				zap.String("username", username),
				zap.Int("created", created),
				zap.Int("skipped", skipped),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "target sky, overrides the file's username")
	cmd.Flags().BoolVar(&remote, "remote", false, "insert through the API at --server instead of the configured store")

	return cmd
}

type insertFunc func(ctx context.Context, w entities.Wish, username string) (bool, error)

// importTarget returns the insert path for import. The remote path cannot
// tell replays from creations, so it reports every success as created.
func (a *app) importTarget(ctx context.Context, remote bool) (insertFunc, func(), error) {
	if remote {
		c := client.NewWishClient(a.cfg.Server, a.logger)
		return func(ctx context.Context, w entities.Wish, username string) (bool, error) {
			return true, c.Insert(ctx, w, username)
		}, func() {}, nil
	}

	container, err := di.InitializeContainer(ctx, a.cfg, di.BuildVersion(releaseVersion))
	if err != nil {
		return nil, nil, err
	}
	return container.Repository.Create, func() {
		_ = container.Shutdown(context.Background())
	}, nil
}
