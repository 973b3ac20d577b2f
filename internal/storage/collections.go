package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/link-tracker-bot/internal/deeplink"
	"github.com/xaenox/link-tracker-bot/internal/models"
)

const collectionColumns = `collection_id, owner_id, display_name, code, click_count, created_at`

func scanCollection(row rowScanner, c *models.LinkCollection, extra ...any) error {
	dest := []any{
		&c.CollectionID,
		&c.OwnerID,
		&c.DisplayName,
		&c.Code,
		&c.ClickCount,
		timeValue{&c.CreatedAt},
	}
	return row.Scan(append(dest, extra...)...)
}

func (s *Store) CreateCollection(ctx context.Context, ownerID int64, name, code string) (*models.LinkCollection, error) {
	var taken int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM link_collections
		WHERE owner_id = ? AND LOWER(display_name) = LOWER(?)`),
		ownerID, name,
	).Scan(&taken)
	if err != nil {
		return nil, wrapErr("check collection name", err)
	}
	if taken > 0 {
		return nil, ErrDuplicateName
	}

	c := &models.LinkCollection{
		CollectionID: deeplink.CollectionID(name, code),
		OwnerID:      ownerID,
		DisplayName:  name,
		Code:         code,
		CreatedAt:    s.timestamp(),
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO link_collections (collection_id, owner_id, display_name, code, click_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`),
		c.CollectionID, c.OwnerID, c.DisplayName, c.Code, c.CreatedAt,
	)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if strings.Contains(constraint, "owner_name") {
				return nil, ErrDuplicateName
			}
			return nil, fmt.Errorf("%w: %s", ErrCollectionExists, c.CollectionID)
		}
		return nil, wrapErr("create collection", err)
	}

	return c, nil
}

func (s *Store) GetCollection(ctx context.Context, collectionID string) (*models.LinkCollection, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+collectionColumns+`
		FROM link_collections
		WHERE collection_id = ?`), collectionID)

	c := &models.LinkCollection{}
	if err := scanCollection(row, c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get collection", err)
	}
	return c, nil
}

// ListCollectionsByOwner returns the owner's collections, newest first.
func (s *Store) ListCollectionsByOwner(ctx context.Context, ownerID int64) ([]models.CollectionSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+collectionColumns+`,
			(SELECT COUNT(*) FROM link_items i WHERE i.collection_id = c.collection_id)
		FROM link_collections c
		WHERE owner_id = ?
		ORDER BY created_at DESC, collection_id DESC`), ownerID)
	if err != nil {
		return nil, wrapErr("list collections", err)
	}
	defer rows.Close()

	var summaries []models.CollectionSummary
	for rows.Next() {
		var sum models.CollectionSummary
		if err := scanCollection(rows, &sum.LinkCollection, &sum.ItemCount); err != nil {
			return nil, wrapErr("scan collection", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list collections", err)
	}
	return summaries, nil
}

// DeleteCollection removes the collection with its items, target
// resolutions, clicks and activity. It reports false when nothing was deleted.
func (s *Store) DeleteCollection(ctx context.Context, collectionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr("delete collection", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"activity_events", "click_events", "target_resolutions", "link_items"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE collection_id = ?`), collectionID); err != nil {
			return false, wrapErr("delete "+table, err)
		}
	}

	result, err := tx.ExecContext(ctx, s.q(`DELETE FROM link_collections WHERE collection_id = ?`), collectionID)
	if err != nil {
		return false, wrapErr("delete collection", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr("delete collection", err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrapErr("delete collection", err)
	}
	return rowsAffected > 0, nil
}

// IncrementClicks bumps the counter in place so concurrent clicks are not lost.
func (s *Store) IncrementClicks(ctx context.Context, collectionID string) error {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE link_collections
		SET click_count = click_count + 1
		WHERE collection_id = ?`), collectionID)
	if err != nil {
		return wrapErr("increment clicks", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("increment clicks", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddItem appends item after the collection's current last position and
// fills in ItemID and Position.
func (s *Store) AddItem(ctx context.Context, item *models.LinkItem) error {
	if _, err := s.GetCollection(ctx, item.CollectionID); err != nil {
		return err
	}

	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO link_items (collection_id, display_name, target_url, target_kind, platform, position)
		VALUES (?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM link_items WHERE collection_id = ?))
		RETURNING item_id, position`),
		item.CollectionID, item.DisplayName, item.TargetURL, string(item.Kind), item.Platform, item.CollectionID,
	).Scan(&item.ItemID, &item.Position)
	if err != nil {
		return wrapErr("add item", err)
	}
	return nil
}

const itemColumns = `item_id, collection_id, display_name, target_url, target_kind, platform, position`

func scanItem(row rowScanner, item *models.LinkItem) error {
	var kind string
	if err := row.Scan(
		&item.ItemID,
		&item.CollectionID,
		&item.DisplayName,
		&item.TargetURL,
		&kind,
		&item.Platform,
		&item.Position,
	); err != nil {
		return err
	}
	item.Kind = models.TargetKind(kind)
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*models.LinkItem, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+itemColumns+`
		FROM link_items
		WHERE item_id = ?`), itemID)

	item := &models.LinkItem{}
	if err := scanItem(row, item); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get item", err)
	}
	return item, nil
}

// ListItems returns the items of a collection in display order.
func (s *Store) ListItems(ctx context.Context, collectionID string) ([]models.LinkItem, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+itemColumns+`
		FROM link_items
		WHERE collection_id = ?
		ORDER BY position ASC, item_id ASC`), collectionID)
	if err != nil {
		return nil, wrapErr("list items", err)
	}
	defer rows.Close()

	var items []models.LinkItem
	for rows.Next() {
		var item models.LinkItem
		if err := scanItem(rows, &item); err != nil {
			return nil, wrapErr("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list items", err)
	}
	return items, nil
}

func (s *Store) UpdateItem(ctx context.Context, itemID int64, update models.ItemUpdate) (bool, error) {
	var (
		sets []string
		args []any
	)
	if update.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *update.DisplayName)
	}
	if update.Target != nil {
		sets = append(sets, "target_url = ?", "target_kind = ?", "platform = ?")
		args = append(args, update.Target.URL, string(update.Target.Kind), update.Target.Platform)
	}

	if len(sets) == 0 {
		_, err := s.GetItem(ctx, itemID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	args = append(args, itemID)
	result, err := s.db.ExecContext(ctx,
		s.q(`UPDATE link_items SET `+strings.Join(sets, ", ")+` WHERE item_id = ?`), args...)
	if err != nil {
		return false, wrapErr("update item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr("update item", err)
	}
	return rowsAffected > 0, nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM link_items WHERE item_id = ?`), itemID)
	if err != nil {
		return false, wrapErr("delete item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr("delete item", err)
	}
	return rowsAffected > 0, nil
}
