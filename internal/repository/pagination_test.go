package repository

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_EncodeDecodeRoundTrips(t *testing.T) {
	c := Cursor{ID: "abc123", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	token := EncodeCursor(c)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, c.ID, decoded.ID)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
}

func TestDecodeCursor_RejectsMalformedInput(t *testing.T) {
	_, err := DecodeCursor("not-valid-base64!!!")
	assert.Error(t, err)
}

func TestDecodeCursor_RejectsNonJSONPayload(t *testing.T) {
	token := base64.URLEncoding.EncodeToString([]byte("not json"))
	_, err := DecodeCursor(token)
	assert.Error(t, err)
}

func TestPageRequest_Normalize_AppliesDefaultsAndCap(t *testing.T) {
	p := PageRequest{}.Normalize(50, 100)
	assert.Equal(t, 50, p.Limit)
	assert.Equal(t, DirectionNext, p.Direction)

	p = PageRequest{Limit: 1000}.Normalize(50, 100)
	assert.Equal(t, 100, p.Limit)

	p = PageRequest{Limit: 10, Direction: DirectionPrev}.Normalize(50, 100)
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, DirectionPrev, p.Direction)
}

type row struct {
	id        string
	createdAt time.Time
}

func TestBuildPage_DetectsHasNextFromOverfetchedRow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{
		{id: "1", createdAt: base},
		{id: "2", createdAt: base.Add(time.Minute)},
		{id: "3", createdAt: base.Add(2 * time.Minute)}, // the limit+1 lookahead row
	}

	page := BuildPage(rows, 2, false, func(r row) string { return r.id }, func(r row) time.Time { return r.createdAt })

	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	require.NotNil(t, page.NextCursor)
	require.NotNil(t, page.PrevCursor)
}

func TestBuildPage_NoOverfetchMeansNoNextPage(t *testing.T) {
	rows := []row{{id: "1", createdAt: time.Now()}}
	page := BuildPage(rows, 2, true, func(r row) string { return r.id }, func(r row) time.Time { return r.createdAt })

	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)
}

func TestBuildPage_EmptyResultHasNilCursors(t *testing.T) {
	page := BuildPage([]row{}, 10, false, func(r row) string { return r.id }, func(r row) time.Time { return r.createdAt })
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
	assert.Nil(t, page.PrevCursor)
}
