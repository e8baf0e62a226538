package checkin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elonfeng/swarm2sqlite/internal/store"
)

func TestEnsureForeignKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	c := loadCheckin(t)
	c["createdBy"] = map[string]any{"id": "42", "firstName": "Ada"}
	require.NoError(t, NewNormalizer(NullAlways).Normalize(ctx, s, c))

	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.EnsureForeignKeys(ctx, s))

	fks, err := s.ForeignKeys(ctx, "checkins")
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.ForeignKey{
		{Table: "checkins", Column: "venue", OtherTable: "venues", OtherColumn: "id"},
		{Table: "checkins", Column: "source", OtherTable: "sources", OtherColumn: "id"},
		{Table: "checkins", Column: "createdBy", OtherTable: "users", OtherColumn: "id"},
		{Table: "checkins", Column: "event", OtherTable: "events", OtherColumn: "id"},
	}, fks)

	// Rows survive the rebuild and a second pass changes nothing.
	require.NoError(t, m.EnsureForeignKeys(ctx, s))
	assert.Equal(t, 1, count(t, s, "checkins"))
	rows, err := s.Rows(ctx, "checkins")
	require.NoError(t, err)
	assert.Equal(t, "42", rows[0]["createdBy"])
}

func TestEnsureForeignKeysAddsStickerWhenPresent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	c := loadCheckin(t)
	c["sticker"] = map[string]any{
		"id":    "s1",
		"image": map[string]any{"prefix": "p", "sizes": []any{60}, "name": "/n.png"},
	}
	require.NoError(t, NewNormalizer(NullAlways).Normalize(ctx, s, c))
	require.NoError(t, NewManager(nil).EnsureForeignKeys(ctx, s))

	fks, err := s.ForeignKeys(ctx, "checkins")
	require.NoError(t, err)
	assert.Contains(t, fks, store.ForeignKey{Table: "checkins", Column: "sticker", OtherTable: "stickers", OtherColumn: "id"})
}

func TestEnsureForeignKeysOnEmptyStore(t *testing.T) {
	require.NoError(t, NewManager(nil).EnsureForeignKeys(context.Background(), newStore(t)))
}

func TestCreateViews(t *testing.T) {
	ctx := context.Background()
	s := converted(t)
	m := NewManager(zaptest.NewLogger(t))

	require.NoError(t, m.EnsureForeignKeys(ctx, s))
	require.NoError(t, m.CreateViews(ctx, s))
	require.NoError(t, m.CreateViews(ctx, s))

	names, err := s.ViewNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{VenueDetailsView, CheckinDetailsView}, names)

	details, err := s.Query(ctx, "SELECT * FROM "+CheckinDetailsView)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, fixtureCheckinID, details[0]["id"])
	assert.Equal(t, "2017-05-28T20:03:10", details[0]["created"])
	assert.Equal(t, "Restaurant Name", details[0]["venue_name"])
	assert.Equal(t, "Category Name", details[0]["venue_categories"])
	assert.Equal(t, "A movie", details[0]["event_name"])
	assert.Equal(t, 38.456, details[0]["latitude"])

	venues, err := s.Query(ctx, "SELECT * FROM "+VenueDetailsView)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, int64(1), venues[0]["count"])
	assert.Equal(t, venues[0]["first"], venues[0]["last"])
}

func TestCreateViewsSkipsMissingTables(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	assert.NoError(t, NewManager(nil).CreateViews(ctx, s))
}
