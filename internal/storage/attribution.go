package storage

import (
	"context"
	"database/sql"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/xaenox/link-tracker-bot/internal/models"
)

// MaxExcerptLength caps stored message excerpts, in runes.
const MaxExcerptLength = 500

// RecordClick increments the collection counter and appends the click. The
// two writes are separate statements; the click log is authoritative when
// they disagree.
func (s *Store) RecordClick(ctx context.Context, click *models.ClickEvent) error {
	if err := s.IncrementClicks(ctx, click.CollectionID); err != nil {
		return err
	}

	if click.EventID == "" {
		click.EventID = uuid.NewString()
	}
	if click.ClickedAt.IsZero() {
		click.ClickedAt = s.timestamp()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO click_events
			(event_id, collection_id, source, user_id, username, first_name, last_name, language_code, is_bot, clicked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		click.EventID,
		click.CollectionID,
		nullString(click.Source),
		click.Clicker.ID,
		nullString(click.Clicker.Handle),
		nullString(click.Clicker.FirstName),
		nullString(click.Clicker.LastName),
		nullString(click.Clicker.Locale),
		boolToInt(click.Clicker.IsAutomated),
		click.ClickedAt,
	)
	if err != nil {
		return wrapErr("record click", err)
	}
	return nil
}

func (s *Store) RecordActivity(ctx context.Context, activity *models.ActivityEvent) error {
	if activity.EventID == "" {
		activity.EventID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = s.timestamp()
	}
	activity.MessageExcerpt = truncateRunes(activity.MessageExcerpt, MaxExcerptLength)

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO activity_events
			(event_id, user_id, username, chat_id, chat_title, chat_handle, collection_id, code,
			 message_excerpt, message_ref, linked_post_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		activity.EventID,
		activity.UserID,
		nullString(activity.Username),
		activity.ChatID,
		nullString(activity.ChatTitle),
		nullString(activity.ChatHandle),
		activity.CollectionID,
		activity.Code,
		nullString(activity.MessageExcerpt),
		nullInt(int64(activity.MessageRef)),
		nullInt(int64(activity.LinkedPostRef)),
		activity.CreatedAt,
	)
	if err != nil {
		return wrapErr("record activity", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const clickColumns = `event_id, collection_id, source, user_id, username, first_name, last_name, language_code, is_bot, clicked_at`

func scanClick(row rowScanner, click *models.ClickEvent) error {
	var (
		source, username, firstName, lastName, locale sql.NullString
		isBot                                         int
	)
	if err := row.Scan(
		&click.EventID,
		&click.CollectionID,
		&source,
		&click.Clicker.ID,
		&username,
		&firstName,
		&lastName,
		&locale,
		&isBot,
		timeValue{&click.ClickedAt},
	); err != nil {
		return err
	}
	click.Source = source.String
	click.Clicker.Handle = username.String
	click.Clicker.FirstName = firstName.String
	click.Clicker.LastName = lastName.String
	click.Clicker.Locale = locale.String
	click.Clicker.IsAutomated = isBot != 0
	return nil
}

// ClicksByCollection yields the collection's clicks newest first. The rows
// stay open until iteration stops, so callers must not issue other queries
// on the store from inside the loop.
func (s *Store) ClicksByCollection(ctx context.Context, collectionID string) iter.Seq2[models.ClickEvent, error] {
	return func(yield func(models.ClickEvent, error) bool) {
		rows, err := s.db.QueryContext(ctx, s.q(`
			SELECT `+clickColumns+`
			FROM click_events
			WHERE collection_id = ?
			ORDER BY clicked_at DESC, id DESC`), collectionID)
		if err != nil {
			yield(models.ClickEvent{}, wrapErr("query clicks", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var click models.ClickEvent
			if err := scanClick(rows, &click); err != nil {
				yield(models.ClickEvent{}, wrapErr("scan click", err))
				return
			}
			if !yield(click, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.ClickEvent{}, wrapErr("query clicks", err))
		}
	}
}

// UniqueClickers returns one row per user with the profile captured on their
// first click, most recent first clicks first.
func (s *Store) UniqueClickers(ctx context.Context, collectionID string) ([]models.UniqueClicker, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+clickColumns+`
		FROM click_events
		WHERE id IN (
			SELECT MIN(id) FROM click_events
			WHERE collection_id = ?
			GROUP BY user_id
		)
		ORDER BY clicked_at DESC, id DESC`), collectionID)
	if err != nil {
		return nil, wrapErr("query unique clickers", err)
	}
	defer rows.Close()

	var clickers []models.UniqueClicker
	for rows.Next() {
		var click models.ClickEvent
		if err := scanClick(rows, &click); err != nil {
			return nil, wrapErr("scan clicker", err)
		}
		clickers = append(clickers, models.UniqueClicker{User: click.Clicker, FirstClick: click.ClickedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query unique clickers", err)
	}
	return clickers, nil
}

// SourceBreakdown groups clicks by attribution source; clicks without a
// source are reported under the empty string.
func (s *Store) SourceBreakdown(ctx context.Context, collectionID string) ([]models.SourceStat, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT COALESCE(source, ''), COUNT(*), COUNT(DISTINCT user_id)
		FROM click_events
		WHERE collection_id = ?
		GROUP BY COALESCE(source, '')
		ORDER BY 2 DESC, 1 ASC`), collectionID)
	if err != nil {
		return nil, wrapErr("query sources", err)
	}
	defer rows.Close()

	var stats []models.SourceStat
	for rows.Next() {
		var stat models.SourceStat
		if err := rows.Scan(&stat.Source, &stat.Clicks, &stat.UniqueUsers); err != nil {
			return nil, wrapErr("scan source", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query sources", err)
	}
	return stats, nil
}

// activityFilter matches events attributed to the collection directly, or
// carrying its code in one of the known chats.
func activityFilter(query models.ActivityQuery) (string, []any) {
	where := "collection_id = ?"
	args := []any{query.CollectionID}

	if query.Code != "" && len(query.ChatIDs) > 0 {
		where += " OR (code = ? AND chat_id IN (" + placeholders(len(query.ChatIDs)) + "))"
		args = append(args, query.Code)
		for _, id := range query.ChatIDs {
			args = append(args, id)
		}
	}
	return "(" + where + ")", args
}

const activityColumns = `event_id, user_id, username, chat_id, chat_title, chat_handle, collection_id, code,
	message_excerpt, message_ref, linked_post_ref, created_at`

// Activity yields matching activity newest first. As with
// ClicksByCollection, the rows stay open while iterating.
func (s *Store) Activity(ctx context.Context, query models.ActivityQuery) iter.Seq2[models.ActivityEvent, error] {
	return func(yield func(models.ActivityEvent, error) bool) {
		where, args := activityFilter(query)
		rows, err := s.db.QueryContext(ctx, s.q(`
			SELECT `+activityColumns+`
			FROM activity_events
			WHERE `+where+`
			ORDER BY created_at DESC, id DESC`), args...)
		if err != nil {
			yield(models.ActivityEvent{}, wrapErr("query activity", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev                               models.ActivityEvent
				username, title, handle, excerpt sql.NullString
				messageRef, linkedPostRef        sql.NullInt64
			)
			if err := rows.Scan(
				&ev.EventID,
				&ev.UserID,
				&username,
				&ev.ChatID,
				&title,
				&handle,
				&ev.CollectionID,
				&ev.Code,
				&excerpt,
				&messageRef,
				&linkedPostRef,
				timeValue{&ev.CreatedAt},
			); err != nil {
				yield(models.ActivityEvent{}, wrapErr("scan activity", err))
				return
			}
			ev.Username = username.String
			ev.ChatTitle = title.String
			ev.ChatHandle = handle.String
			ev.MessageExcerpt = excerpt.String
			ev.MessageRef = int(messageRef.Int64)
			ev.LinkedPostRef = int(linkedPostRef.Int64)

			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.ActivityEvent{}, wrapErr("query activity", err))
		}
	}
}

// CountActivity counts matching activity, restricted to userID when non-zero.
func (s *Store) CountActivity(ctx context.Context, query models.ActivityQuery, userID int64) (int64, error) {
	where, args := activityFilter(query)
	var b strings.Builder
	b.WriteString(`SELECT COUNT(*) FROM activity_events WHERE `)
	b.WriteString(where)
	if userID != 0 {
		b.WriteString(` AND user_id = ?`)
		args = append(args, userID)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, s.q(b.String()), args...).Scan(&count); err != nil {
		return 0, wrapErr("count activity", err)
	}
	return count, nil
}
