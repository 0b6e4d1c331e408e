// Package supabase stores wishes in a Supabase (PostgREST) table.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

const columns = "id,name,message,x,y,created_at"

// row is the table shape. name is nullable upstream.
type row struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Message   string  `json:"message"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CreatedAt string  `json:"created_at,omitempty"`
	Username  string  `json:"username,omitempty"`
}

func (r row) toWish(now func() time.Time) entities.Wish {
	w := entities.Wish{
		ID:      r.ID,
		Message: r.Message,
		X:       r.X,
		Y:       r.Y,
	}
	if r.Name != nil {
		w.Name = *r.Name
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		w.CreatedAt = ts.UnixMilli()
	} else {
		w.CreatedAt = now().UnixMilli()
	}
	return w
}

func fromWish(username string, w entities.Wish) row {
	name := w.Name
	r := row{
		ID:       w.ID,
		Name:     &name,
		Message:  w.Message,
		X:        w.X,
		Y:        w.Y,
		Username: username,
	}
	if w.CreatedAt > 0 {
		r.CreatedAt = time.UnixMilli(w.CreatedAt).UTC().Format(time.RFC3339Nano)
	}
	return r
}

// WishStore implements ports.WishStore over a Supabase table.
type WishStore struct {
	client *supa.Client
	table  string
	logger *zap.Logger
	now    func() time.Time
}

// NewWishStore connects to the project at url with key.
func NewWishStore(url, key, table string, logger *zap.Logger) (*WishStore, error) {
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &WishStore{
		client: client,
		table:  table,
		logger: logger,
		now:    time.Now,
	}, nil
}

// FetchRecent returns the newest limit rows of username, oldest first.
func (s *WishStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.NewStoreError("fetch", err)
	}

	var rows []row
	_, err := s.client.From(s.table).
		Select(columns, "", false).
		Eq("username", username).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, pkgerrors.NewStoreError("fetch", err)
	}

	wishes := make([]entities.Wish, len(rows))
	for i, r := range rows {
		wishes[len(rows)-1-i] = r.toWish(s.now)
	}

	s.logger.Debug("Fetched wishes",
		zap.String("username", username),
		zap.Int("count", len(wishes)))

	return wishes, nil
}

// Insert adds wish to the table. A unique violation on id is a duplicate key.
func (s *WishStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewStoreError("insert", err)
	}

	_, _, err := s.client.From(s.table).
		Insert(fromWish(username, wish), false, "", "minimal", "").
		Execute()
	if err != nil {
		if isDuplicate(err) {
			return pkgerrors.NewDuplicateKeyError(wish.ID, err)
		}
		return pkgerrors.NewStoreError("insert", err)
	}

	s.logger.Debug("Inserted wish",
		zap.String("username", username),
		zap.String("wish_id", wish.ID))

	return nil
}

// Ping runs a one-row select against the table.
func (s *WishStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []row
	_, err := s.client.From(s.table).Select("id", "", false).Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return pkgerrors.NewUnavailableError("supabase", err)
	}
	return nil
}

// isDuplicate matches PostgreSQL unique_violation as reported by PostgREST.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "23505")
}
