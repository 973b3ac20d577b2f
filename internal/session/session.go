// Package session keeps per-user conversation state between updates.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNoSession = errors.New("no session")

type Step string

const (
	StepAwaitingName     Step = "awaiting_name"
	StepConfirmName      Step = "confirm_name"
	StepManaging         Step = "managing"
	StepAwaitingItemName Step = "awaiting_item_name"
	StepAwaitingItemURL  Step = "awaiting_item_url"
	StepAwaitingEditName Step = "awaiting_edit_name"
	StepAwaitingEditURL  Step = "awaiting_edit_url"
)

// State is where a user is in a multi-message flow.
type State struct {
	Step          Step   `json:"step"`
	CollectionID  string `json:"collection_id,omitempty"`
	ItemID        int64  `json:"item_id,omitempty"`
	ItemName      string `json:"item_name,omitempty"`
	SuggestedName string `json:"suggested_name,omitempty"`
}

// Store holds one State per user; entries expire after the store's TTL.
type Store interface {
	Get(ctx context.Context, userID int64) (State, error)
	Set(ctx context.Context, userID int64, state State) error
	Delete(ctx context.Context, userID int64) error
}

const DefaultTTL = 30 * time.Minute
