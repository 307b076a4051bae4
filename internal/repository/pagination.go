// Package repository persists the governance entities on Postgres via
// pgx/v5: one struct per table family wrapping *database.DB, dynamic
// WHERE-clause building with fmt.Sprintf for optional filters, and
// db.InTransaction for multi-statement writes.
package repository

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
)

// Cursor is the keyset pagination position: Base64URL of UTF-8 JSON
// {"id": <entity id>, "created_at": <ISO-8601 ms UTC>}.
type Cursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodeCursor renders c as the opaque token callers pass back as
// next_cursor/prev_cursor.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque cursor token, failing with a ValidationError
// if it is malformed.
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return c, apperr.InvalidInput("cursor", "cursor is not valid base64")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, apperr.InvalidInput("cursor", "cursor payload is not valid JSON")
	}
	return c, nil
}

// Direction is the requested paging direction. Normalize defaults it to
// DirectionNext; the list queries in this package do not read it and always
// return the entries older than the cursor, so a DirectionPrev request
// yields the same page as DirectionNext.
type Direction string

const (
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

// PageRequest is the common input to every keyset-paginated list query.
type PageRequest struct {
	Cursor    string
	Direction Direction
	Limit     int
}

// Normalize applies the spec's default/cap rules for a given page kind.
// defaultLimit/maxLimit let audit reads (100/1000) differ from the standard
// 50/100 used elsewhere.
func (p PageRequest) Normalize(defaultLimit, maxLimit int) PageRequest {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Direction == "" {
		p.Direction = DirectionNext
	}
	return p
}

// Page is the envelope shape returned by any list operation.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
	PrevCursor *string `json:"prev_cursor"`
	HasNext    bool    `json:"has_next"`
	HasPrev    bool    `json:"has_prev"`
	Limit      int     `json:"limit"`
}

// BuildPage trims rows (fetched with limit+1 to detect a next page) down to
// the page contents and derives the envelope's cursor/has_next/has_prev
// fields. idAt/createdAtAt extract the keyset fields from a row. hadCursor
// reports whether this query was anchored on an incoming cursor (i.e. is
// not the very first page), which is what determines has_prev.
func BuildPage[T any](rows []T, limit int, hadCursor bool, idAt func(T) string, createdAtAt func(T) time.Time) Page[T] {
	hasExtra := len(rows) > limit
	if hasExtra {
		rows = rows[:limit]
	}

	page := Page[T]{Items: rows, Limit: limit, HasNext: hasExtra, HasPrev: hadCursor}
	if len(rows) > 0 {
		first := rows[0]
		last := rows[len(rows)-1]
		nc := EncodeCursor(Cursor{ID: idAt(last), CreatedAt: createdAtAt(last)})
		pc := EncodeCursor(Cursor{ID: idAt(first), CreatedAt: createdAtAt(first)})
		page.NextCursor = &nc
		page.PrevCursor = &pc
	}
	return page
}
