package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veritas-nexus/veritas/connector"
)

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	return New(Config{}, zaptest.NewLogger(t).Sugar())
}

func TestName(t *testing.T) {
	assert.Equal(t, "pdf", newTestConnector(t).Name())
}

func TestDiscover_SingleDocument(t *testing.T) {
	c := newTestConnector(t)

	items, err := c.Discover(context.Background(), "https://example.com/report.pdf", 10, connector.OrderOldest)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "https://example.com/report.pdf", items[0].ID)
	assert.Equal(t, "https://example.com/report.pdf", items[0].URL)
}

func TestDiscover_EmptyTarget(t *testing.T) {
	c := newTestConnector(t)

	_, err := c.Discover(context.Background(), "", 10, connector.OrderOldest)
	require.Error(t, err)
}

const manifestTOML = `
[[documents]]
id = "q2"
url = "https://example.com/q2.pdf"
title = "Q2 Report"
date = "20240701"

[[documents]]
id = "q1"
url = "https://example.com/q1.pdf"
title = "Q1 Report"
date = "20240401"

[[documents]]
url = "https://example.com/notes.txt"

[[documents]]
id = "broken"
title = "entry without url"
`

func TestDiscover_Manifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "set.toml")
	require.NoError(t, os.WriteFile(path, []byte(manifestTOML), 0644))

	c := newTestConnector(t)

	t.Run("oldest", func(t *testing.T) {
		items, err := c.Discover(context.Background(), path, 10, connector.OrderOldest)
		require.NoError(t, err)

		require.Len(t, items, 3, "entries without url are skipped")
		// The undated entry sorts before dated ones.
		assert.Equal(t, "https://example.com/notes.txt", items[0].ID, "id defaults to the url")
		assert.Equal(t, "q1", items[1].ID)
		assert.Equal(t, "q2", items[2].ID)
		assert.Equal(t, "Q1 Report", items[1].Title)
	})

	t.Run("newest with limit", func(t *testing.T) {
		items, err := c.Discover(context.Background(), path, 2, connector.OrderNewest)
		require.NoError(t, err)

		require.Len(t, items, 2)
		assert.Equal(t, "q2", items[0].ID)
		assert.Equal(t, "q1", items[1].ID)
	})
}

func TestDiscover_MalformedManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[documents\noops"), 0644))

	c := newTestConnector(t)
	_, err := c.Discover(context.Background(), path, 10, connector.OrderOldest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse manifest")
}

func TestFetch_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("First paragraph\nstill first.\n\nSecond paragraph.\n"), 0644))

	c := newTestConnector(t)
	content, err := c.Fetch(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, content.ItemID)
	require.Len(t, content.Segments, 2)
	assert.Equal(t, connector.Segment{Text: "First paragraph still first.", StartMS: 0}, content.Segments[0])
	assert.Equal(t, connector.Segment{Text: "Second paragraph.", StartMS: 1}, content.Segments[1])
}

func TestFetch_Failures(t *testing.T) {
	c := newTestConnector(t)

	t.Run("unsupported type", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tool.exe")
		require.NoError(t, os.WriteFile(path, []byte{0x4d, 0x5a}, 0644))

		_, err := c.Fetch(context.Background(), path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported document type")
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
		require.Error(t, err)
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), "")
		require.Error(t, err)
	})

	t.Run("only whitespace", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "blank.txt")
		require.NoError(t, os.WriteFile(path, []byte("  \n\n\t\n"), 0644))

		_, err := c.Fetch(context.Background(), path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no extractable text")
	})
}

func TestSourceExt(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"https://example.com/report.pdf", ".pdf"},
		{"https://example.com/report.PDF?token=abc", ".pdf"},
		{"/data/docs/set.toml", ".toml"},
		{"notes.TXT", ".txt"},
		{"https://example.com/feed", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sourceExt(tt.src), tt.src)
	}
}

func TestStreamText(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{
			name:   "Tj operator",
			stream: "BT\n(Hello) Tj\n(World) Tj\nET",
			want:   "HelloWorld",
		},
		{
			name:   "TJ array with kerning",
			stream: "[(Ve) -120 (ritas)] TJ",
			want:   "Veritas",
		},
		{
			name:   "positioning adds separation",
			stream: "(one) Tj\n0 -14 Td\n(two) Tj",
			want:   "one two",
		},
		{
			name:   "quote operator breaks lines",
			stream: "(first) Tj\n(second) '",
			want:   "first second",
		},
		{
			name:   "escapes decoded",
			stream: `(a\040b) Tj`,
			want:   "a b",
		},
		{
			name:   "no text operators",
			stream: "0.5 w\n1 0 0 1 50 700 cm",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streamText([]byte(tt.stream)))
		})
	}
}

func TestDecodePDFString(t *testing.T) {
	assert.Equal(t, "tab\there", decodePDFString([]byte(`tab\there`)))
	assert.Equal(t, `back\slash`, decodePDFString([]byte(`back\\slash`)))
	assert.Equal(t, "(c)", decodePDFString([]byte(`\(c\)`)))
	assert.Equal(t, " ", decodePDFString([]byte(`\040`)))
	assert.Equal(t, "A", decodePDFString([]byte(`\101`)))
}

func TestCollapseText(t *testing.T) {
	assert.Equal(t, "a b c", collapseText("  a \n\n b\t\tc  "))
	assert.Equal(t, "", collapseText(" \n \t "))
}
