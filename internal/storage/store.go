package storage

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

var trackerColumns = []column{
	{table: "link_items", name: "platform", definition: "TEXT NOT NULL DEFAULT ''"},
	{table: "activity_events", name: "linked_post_ref", definition: "BIGINT"},
}

// Store is the tracker database: collections, items, target resolutions,
// clicks and activity.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

var (
	_ CollectionStore  = (*Store)(nil)
	_ AttributionStore = (*Store)(nil)
	_ TargetDirectory  = (*Store)(nil)
)

func NewStore(ctx context.Context, config DatabaseConfig, logger *zap.Logger, opts ...Option) (*Store, error) {
	db, d, err := openDB(ctx, config, "tracker", trackerColumns, logger)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &Store{
		db:      db,
		dialect: d,
		logger:  logger,
		now:     o.now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}
