package models

import (
	"time"
)

type TargetKind string

const (
	TelegramTarget TargetKind = "telegram"
	ExternalTarget TargetKind = "external"
	SocialTarget   TargetKind = "social"
)

// LinkCollection is a named, owned set of ordered links shared through one deep link.
type LinkCollection struct {
	CollectionID string    `json:"collection_id"`
	OwnerID      int64     `json:"owner_id"`
	DisplayName  string    `json:"display_name"`
	Code         string    `json:"code"`
	ClickCount   int64     `json:"click_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// CollectionSummary is a collection annotated with its item count.
type CollectionSummary struct {
	LinkCollection
	ItemCount int `json:"item_count"`
}

type LinkItem struct {
	ItemID       int64      `json:"item_id"`
	CollectionID string     `json:"collection_id"`
	DisplayName  string     `json:"display_name"`
	TargetURL    string     `json:"target_url"`
	Kind         TargetKind `json:"target_kind"`
	Platform     string     `json:"platform,omitempty"`
	Position     int        `json:"position"`
}

// Target is a classified link destination.
type Target struct {
	URL      string
	Kind     TargetKind
	Platform string
}

// ItemUpdate carries the fields to change on a link item; nil means unchanged.
type ItemUpdate struct {
	DisplayName *string
	Target      *Target
}

// TargetResolution caches the chat identity behind a telegram item.
type TargetResolution struct {
	CollectionID   string `json:"collection_id"`
	SourceHandle   string `json:"source_handle"`
	ResolvedChatID int64  `json:"resolved_chat_id"`
	ResolvedHandle string `json:"resolved_handle"`
}

// AttributionMatch is a collection a chat event can be attributed to.
type AttributionMatch struct {
	CollectionID string
	Code         string
}
