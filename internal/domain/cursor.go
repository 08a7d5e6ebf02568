package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// Cursor is the decoded position of a job history page: the last job seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor renders an opaque, URL-safe page token.
func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields
// a nil cursor, meaning the first page.
func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, &ValidationError{Field: "cursor", Message: "malformed cursor"}
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, &ValidationError{Field: "cursor", Message: "malformed cursor"}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, &ValidationError{Field: "cursor", Message: "malformed cursor timestamp"}
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// Before reports whether a job sorts strictly after the cursor in
// newest-first order.
func (c *Cursor) Before(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}
