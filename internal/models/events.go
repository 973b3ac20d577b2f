package models

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidEvent = errors.New("invalid event")

// UserProfile is the transport's view of a Telegram user.
type UserProfile struct {
	ID          int64  `json:"id"`
	Handle      string `json:"handle"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Locale      string `json:"locale"`
	IsAutomated bool   `json:"is_automated"`
}

// ChatDescriptor is the transport's view of a Telegram chat.
type ChatDescriptor struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Handle      string `json:"handle"`
	Description string `json:"description"`
}

// ClickRequested is emitted when a user opens the bot through a deep link.
type ClickRequested struct {
	Payload string
	Clicker UserProfile
}

func (e ClickRequested) Validate() error {
	if strings.TrimSpace(e.Payload) == "" {
		return errors.Join(ErrInvalidEvent, errors.New("empty payload"))
	}
	if e.Clicker.ID == 0 {
		return errors.Join(ErrInvalidEvent, errors.New("missing clicker"))
	}
	return nil
}

// ChatMessageReceived is emitted for a user message in a group the bot can see.
type ChatMessageReceived struct {
	Sender             UserProfile
	Chat               ChatDescriptor
	Text               string
	MessageRef         int
	ReplyOriginPostRef int
}

func (e ChatMessageReceived) Validate() error {
	if e.Sender.ID == 0 {
		return errors.Join(ErrInvalidEvent, errors.New("missing sender"))
	}
	return nil
}

type ClickEvent struct {
	EventID      string      `json:"event_id"`
	CollectionID string      `json:"collection_id"`
	Source       string      `json:"source,omitempty"`
	Clicker      UserProfile `json:"clicker"`
	ClickedAt    time.Time   `json:"clicked_at"`
}

type ActivityEvent struct {
	EventID        string    `json:"event_id"`
	UserID         int64     `json:"user_id"`
	Username       string    `json:"username"`
	ChatID         int64     `json:"chat_id"`
	ChatTitle      string    `json:"chat_title"`
	ChatHandle     string    `json:"chat_handle"`
	CollectionID   string    `json:"collection_id"`
	Code           string    `json:"code"`
	MessageExcerpt string    `json:"message_excerpt"`
	MessageRef     int       `json:"message_ref"`
	LinkedPostRef  int       `json:"linked_post_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ActivityQuery selects activity for a collection, optionally widened to any
// event carrying the collection's code in one of ChatIDs.
type ActivityQuery struct {
	CollectionID string
	Code         string
	ChatIDs      []int64
}

type UniqueClicker struct {
	User       UserProfile `json:"user"`
	FirstClick time.Time   `json:"first_click"`
}

type SourceStat struct {
	Source      string `json:"source"`
	Clicks      int64  `json:"clicks"`
	UniqueUsers int64  `json:"unique_users"`
}
