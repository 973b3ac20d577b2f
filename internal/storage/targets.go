package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/xaenox/link-tracker-bot/internal/models"
)

// UpsertTarget records the chat behind a collection's telegram item. Repeated
// calls for the same collection and source handle overwrite the resolution.
func (s *Store) UpsertTarget(ctx context.Context, target models.TargetResolution) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO target_resolutions (collection_id, source_handle, resolved_chat_id, resolved_chat_handle)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection_id, source_handle) DO UPDATE SET
			resolved_chat_id = excluded.resolved_chat_id,
			resolved_chat_handle = excluded.resolved_chat_handle`),
		target.CollectionID,
		normalizeHandle(target.SourceHandle),
		nullInt(target.ResolvedChatID),
		nullString(normalizeHandle(target.ResolvedHandle)),
	)
	if err != nil {
		return wrapErr("upsert target", err)
	}
	return nil
}

func (s *Store) ListTargets(ctx context.Context, collectionID string) ([]models.TargetResolution, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT collection_id, source_handle, resolved_chat_id, resolved_chat_handle
		FROM target_resolutions
		WHERE collection_id = ?
		ORDER BY id`), collectionID)
	if err != nil {
		return nil, wrapErr("list targets", err)
	}
	defer rows.Close()

	var targets []models.TargetResolution
	for rows.Next() {
		var (
			t      models.TargetResolution
			chatID sql.NullInt64
			handle sql.NullString
		)
		if err := rows.Scan(&t.CollectionID, &t.SourceHandle, &chatID, &handle); err != nil {
			return nil, wrapErr("scan target", err)
		}
		t.ResolvedChatID = chatID.Int64
		t.ResolvedHandle = handle.String
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list targets", err)
	}
	return targets, nil
}

// CollectionsForChatEvent returns the collections userID has clicked through
// whose resolved target is this chat, matched by id or case-insensitive
// handle. Without either key nothing matches.
func (s *Store) CollectionsForChatEvent(ctx context.Context, userID int64, chatHandle string, chatID int64) ([]models.AttributionMatch, error) {
	chatHandle = normalizeHandle(chatHandle)

	var (
		conds []string
		args  = []any{userID}
	)
	if chatID != 0 {
		conds = append(conds, "t.resolved_chat_id = ?")
		args = append(args, chatID)
	}
	if chatHandle != "" {
		conds = append(conds, "LOWER(t.resolved_chat_handle) = LOWER(?)")
		args = append(args, chatHandle)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT DISTINCT lc.collection_id, lc.code
		FROM click_events ce
		JOIN link_collections lc ON lc.collection_id = ce.collection_id
		JOIN target_resolutions t ON t.collection_id = lc.collection_id
		WHERE ce.user_id = ? AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY lc.collection_id`), args...)
	if err != nil {
		return nil, wrapErr("match chat event", err)
	}
	defer rows.Close()

	var matches []models.AttributionMatch
	for rows.Next() {
		var m models.AttributionMatch
		if err := rows.Scan(&m.CollectionID, &m.Code); err != nil {
			return nil, wrapErr("scan match", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("match chat event", err)
	}
	return matches, nil
}

func normalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}
