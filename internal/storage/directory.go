package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xaenox/link-tracker-bot/internal/models"
	"go.uber.org/zap"
)

// DirectoryStore is the user/chat/member database, kept apart from the
// tracker data.
type DirectoryStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

var _ UserDirectory = (*DirectoryStore)(nil)

func NewDirectoryStore(ctx context.Context, config DatabaseConfig, logger *zap.Logger, opts ...Option) (*DirectoryStore, error) {
	db, d, err := openDB(ctx, config, "directory", nil, logger)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &DirectoryStore{
		db:      db,
		dialect: d,
		logger:  logger,
		now:     o.now,
	}, nil
}

func (s *DirectoryStore) Close() error {
	return s.db.Close()
}

// TouchUser upserts the profile and counts one interaction.
func (s *DirectoryStore) TouchUser(ctx context.Context, user models.UserProfile) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, `
		INSERT INTO users
			(user_id, username, first_name, last_name, language_code, is_bot, first_seen, last_seen, interaction_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			language_code = excluded.language_code,
			is_bot = excluded.is_bot,
			last_seen = excluded.last_seen,
			interaction_count = users.interaction_count + 1`),
		user.ID,
		nullString(user.Handle),
		nullString(user.FirstName),
		nullString(user.LastName),
		nullString(user.Locale),
		boolToInt(user.IsAutomated),
		now,
		now,
	)
	if err != nil {
		return wrapErr("touch user", err)
	}
	return nil
}

func (s *DirectoryStore) GetUser(ctx context.Context, userID int64) (*models.DirectoryUser, error) {
	var (
		u                                   models.DirectoryUser
		username, firstName, lastName, lang sql.NullString
		isBot                               int
	)
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, `
		SELECT user_id, username, first_name, last_name, language_code, is_bot,
			first_seen, last_seen, interaction_count
		FROM users
		WHERE user_id = ?`), userID,
	).Scan(
		&u.ID,
		&username,
		&firstName,
		&lastName,
		&lang,
		&isBot,
		timeValue{&u.FirstSeen},
		timeValue{&u.LastSeen},
		&u.InteractionCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get user", err)
	}

	u.Handle = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Locale = lang.String
	u.IsAutomated = isBot != 0
	return &u, nil
}

// SaveChat upserts the chat, keeping the time it was first added.
func (s *DirectoryStore) SaveChat(ctx context.Context, chat models.ChatDescriptor) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, `
		INSERT INTO chats (chat_id, chat_type, title, username, description, added_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			chat_type = excluded.chat_type,
			title = excluded.title,
			username = excluded.username,
			description = excluded.description,
			last_seen = excluded.last_seen`),
		chat.ID,
		nullString(chat.Kind),
		nullString(chat.Title),
		nullString(chat.Handle),
		nullString(chat.Description),
		now,
		now,
	)
	if err != nil {
		return wrapErr("save chat", err)
	}
	return nil
}

func (s *DirectoryStore) GetChat(ctx context.Context, chatID int64) (*models.DirectoryChat, error) {
	var (
		c                                models.DirectoryChat
		kind, title, handle, description sql.NullString
	)
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, `
		SELECT chat_id, chat_type, title, username, description, added_at, last_seen
		FROM chats
		WHERE chat_id = ?`), chatID,
	).Scan(
		&c.ID,
		&kind,
		&title,
		&handle,
		&description,
		timeValue{&c.AddedAt},
		timeValue{&c.LastSeen},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get chat", err)
	}

	c.Kind = kind.String
	c.Title = title.String
	c.Handle = handle.String
	c.Description = description.String
	return &c, nil
}

// TouchMember records a message from user in chat.
func (s *DirectoryStore) TouchMember(ctx context.Context, chatID int64, user models.UserProfile) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, `
		INSERT INTO members
			(chat_id, user_id, username, first_name, last_name, first_seen, last_seen, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			last_seen = excluded.last_seen,
			message_count = members.message_count + 1`),
		chatID,
		user.ID,
		nullString(user.Handle),
		nullString(user.FirstName),
		nullString(user.LastName),
		now,
		now,
	)
	if err != nil {
		return wrapErr("touch member", err)
	}
	return nil
}

func (s *DirectoryStore) GetMember(ctx context.Context, chatID, userID int64) (*models.DirectoryMember, error) {
	var (
		m                             models.DirectoryMember
		username, firstName, lastName sql.NullString
	)
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, `
		SELECT chat_id, user_id, username, first_name, last_name, first_seen, last_seen, message_count
		FROM members
		WHERE chat_id = ? AND user_id = ?`), chatID, userID,
	).Scan(
		&m.ChatID,
		&m.UserID,
		&username,
		&firstName,
		&lastName,
		timeValue{&m.FirstSeen},
		timeValue{&m.LastSeen},
		&m.MessageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get member", err)
	}

	m.Username = username.String
	m.FirstName = firstName.String
	m.LastName = lastName.String
	return &m, nil
}
