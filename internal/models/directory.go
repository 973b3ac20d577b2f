package models

import "time"

// DirectoryUser is a user the bot has seen, with interaction bookkeeping.
type DirectoryUser struct {
	UserProfile
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	InteractionCount int64     `json:"interaction_count"`
}

type DirectoryChat struct {
	ChatDescriptor
	AddedAt  time.Time `json:"added_at"`
	LastSeen time.Time `json:"last_seen"`
}

type DirectoryMember struct {
	ChatID       int64     `json:"chat_id"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}
