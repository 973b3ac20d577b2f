// Package deeplink encodes and decodes the /start payload that identifies a
// link collection and an optional traffic source.
package deeplink

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
)

const (
	CodeLength    = 3
	maxSlugLength = 50
	codeCharset   = "abcdefghijklmnopqrstuvwxyz0123456789"
	fallbackSlug  = "group"
)

var ErrInvalidPayload = errors.New("invalid deep-link payload")

var (
	separatorRun = regexp.MustCompile(`[\s-]+`)
	slugInvalid  = regexp.MustCompile(`[^a-z0-9_-]`)
)

// Ref is a decoded payload.
type Ref struct {
	CollectionID string
	Code         string
	Source       string
}

// Encode builds the payload for a collection and an optional source.
func Encode(collectionID, source string) string {
	if source == "" {
		return collectionID
	}
	return collectionID + "-" + source
}

// Decode recovers the collection id and source from a payload.
//
// The code is the last 3-character part, or the one before it when a source
// follows. A slug word of exactly three characters makes this ambiguous
// ("a-bcd-efg" decodes as collection "a-bcd" with source "efg"); deployed links
// depend on the rule, so it is kept as is.
func Decode(payload string) (Ref, error) {
	parts := strings.Split(payload, "-")
	if len(parts) < 2 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}

	n := len(parts)
	switch {
	case n >= 3 && len(parts[n-2]) == CodeLength:
		return Ref{
			CollectionID: strings.Join(parts[:n-1], "-"),
			Code:         parts[n-2],
			Source:       parts[n-1],
		}, nil
	case len(parts[n-1]) == CodeLength:
		return Ref{
			CollectionID: payload,
			Code:         parts[n-1],
		}, nil
	default:
		// legacy {target}-{code}[-{source}]
		return Ref{
			CollectionID: parts[0] + "-" + parts[1],
			Code:         parts[1],
			Source:       strings.Join(parts[2:], "-"),
		}, nil
	}
}

// Slugify turns a display name into the slug part of a collection id.
// Underscores are kept, so "promo_links" stays "promo_links". Names longer
// than 50 characters are cut as is, which may leave a trailing hyphen.
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = separatorRun.ReplaceAllString(slug, "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = separatorRun.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// CollectionID joins the slug of name with code.
func CollectionID(name, code string) string {
	return Slugify(name) + "-" + code
}

// NewCode returns a random 3-character lowercase alphanumeric code.
func NewCode() (string, error) {
	result := make([]byte, CodeLength)
	for i := range result {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		result[i] = codeCharset[num.Int64()]
	}
	return string(result), nil
}

// StartURL is the public t.me link that opens the bot with payload.
func StartURL(botUsername, payload string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s",
		strings.TrimPrefix(botUsername, "@"), url.QueryEscape(payload))
}
