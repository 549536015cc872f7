package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnector struct {
	name string
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Discover(ctx context.Context, target string, limit int, order Order) ([]Item, error) {
	return nil, nil
}

func (s *stubConnector) Fetch(ctx context.Context, itemID string) (*Content, error) {
	return &Content{ItemID: itemID}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	reg.Register(&stubConnector{name: "youtube"})
	reg.Register(&stubConnector{name: "web"})

	assert.True(t, reg.Has("youtube"))
	assert.False(t, reg.Has("pdf"))
	assert.Nil(t, reg.Get("pdf"))

	c := reg.Get("web")
	require.NotNil(t, c)
	assert.Equal(t, "web", c.Name())

	assert.Equal(t, []string{"web", "youtube"}, reg.Names())
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubConnector{name: "youtube"})

	assert.Panics(t, func() {
		reg.Register(&stubConnector{name: "youtube"})
	})
}

func TestOrderValid(t *testing.T) {
	assert.True(t, OrderOldest.Valid())
	assert.True(t, OrderNewest.Valid())
	assert.False(t, Order("").Valid())
	assert.False(t, Order("latest").Valid())
}

func TestSortItems(t *testing.T) {
	items := func() []Item {
		return []Item{
			{ID: "c", UploadDate: "20240301"},
			{ID: "a", UploadDate: "20240101"},
			{ID: "b", UploadDate: "20240101"},
			{ID: "d", UploadDate: ""},
		}
	}

	t.Run("oldest first with id tie-break", func(t *testing.T) {
		got := items()
		SortItems(got, OrderOldest)

		ids := make([]string, len(got))
		for i, it := range got {
			ids[i] = it.ID
		}
		// Undated items sort before dated ones.
		assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
	})

	t.Run("newest reverses", func(t *testing.T) {
		got := items()
		SortItems(got, OrderNewest)

		ids := make([]string, len(got))
		for i, it := range got {
			ids[i] = it.ID
		}
		assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
	})
}

func TestCapItems(t *testing.T) {
	items := []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Len(t, CapItems(items, 2), 2)
	assert.Len(t, CapItems(items, 3), 3)
	assert.Len(t, CapItems(items, 10), 3)
	assert.Len(t, CapItems(items, 0), 3)
	assert.Len(t, CapItems(items, -1), 3)
	assert.Equal(t, "a", CapItems(items, 1)[0].ID)
}
