package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/internal/httpclient"
)

func newTestConnector(t *testing.T, server *httptest.Server) *Connector {
	t.Helper()
	return NewWithClient(httpclient.WrapClient(server.Client()), zaptest.NewLogger(t).Sugar())
}

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Page</title><style>p { color: red }</style></head>
<body>
  <nav><a href="/home">Home</a> site menu</nav>
  <article>
    <h1>Headline text</h1>
    <p>First   paragraph
       with folded whitespace.</p>
    <p hidden>invisible paragraph</p>
    <p aria-hidden="true">screenreader-skipped</p>
    <p style="display: none">styled away</p>
    <script>var tracking = "beacon";</script>
    <p>Second paragraph.</p>
  </article>
  <footer>copyright notice</footer>
</body>
</html>`

func TestFetch_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML)
	}))
	defer server.Close()

	c := newTestConnector(t, server)
	content, err := c.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	texts := make([]string, len(content.Segments))
	for i, seg := range content.Segments {
		texts[i] = seg.Text
		assert.Equal(t, int64(i), seg.StartMS, "segments anchor by ordinal")
	}

	assert.Equal(t, []string{
		"Headline text",
		"First paragraph with folded whitespace.",
		"Second paragraph.",
	}, texts)

	joined := strings.Join(texts, " ")
	assert.NotContains(t, joined, "invisible")
	assert.NotContains(t, joined, "screenreader")
	assert.NotContains(t, joined, "styled away")
	assert.NotContains(t, joined, "tracking")
	assert.NotContains(t, joined, "site menu")
	assert.NotContains(t, joined, "copyright")
}

func TestFetch_PlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "First paragraph.\n\nSecond\nparagraph.\n\n\n")
	}))
	defer server.Close()

	c := newTestConnector(t, server)
	content, err := c.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	require.Len(t, content.Segments, 2)
	assert.Equal(t, "First paragraph.", content.Segments[0].Text)
	assert.Equal(t, "Second paragraph.", content.Segments[1].Text)
}

func TestFetch_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/binary":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50})
		case "/empty":
			fmt.Fprint(w, "<html><body><script>only code</script></body></html>")
		}
	}))
	defer server.Close()

	c := newTestConnector(t, server)

	t.Run("non-200 status", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), server.URL+"/missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("unsupported content type", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), server.URL+"/binary")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported content type")
	})

	t.Run("no extractable text", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), server.URL+"/empty")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no extractable text")
	})
}

func TestDiscover_DepthOne(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	c := newTestConnector(t, server)
	items, err := c.Discover(context.Background(), server.URL, 10, connector.OrderOldest)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, server.URL, items[0].ID)
	assert.Equal(t, 0, requests, "depth 1 must not fetch anything during discovery")
}

func TestDiscover_DepthTwo(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprintf(w, `<html><body>
				<a href="/articles/one">one</a>
				<a href="%s/articles/two#section">two</a>
				<a href="https://elsewhere.example.com/外部">external</a>
				<a href="mailto:contact@example.com">mail</a>
				<a href="/articles/one">duplicate</a>
			</body></html>`, server.URL)
			return
		}
		fmt.Fprint(w, "<html><body><p>leaf page</p></body></html>")
	}))
	defer server.Close()

	base := newTestConnector(t, server)
	c := base.WithDepth(2)

	items, err := c.Discover(context.Background(), server.URL, 10, connector.OrderOldest)
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, server.URL, items[0].ID)
	assert.Equal(t, server.URL+"/articles/one", items[1].ID)
	assert.Equal(t, server.URL+"/articles/two", items[2].ID, "fragments are stripped")

	// The registered instance keeps depth 1.
	assert.Equal(t, 1, base.depth)
}

func TestDiscover_LimitAndNewest(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/a">a</a><a href="/b">b</a><a href="/c">c</a>
		</body></html>`)
	}))
	defer server.Close()

	c := newTestConnector(t, server).WithDepth(2)

	items, err := c.Discover(context.Background(), server.URL, 2, connector.OrderNewest)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, server.URL+"/a", items[0].ID, "newest reverses crawl order")
	assert.Equal(t, server.URL, items[1].ID)
}

func TestDiscover_InvalidTarget(t *testing.T) {
	c := New(0, zaptest.NewLogger(t).Sugar())

	_, err := c.Discover(context.Background(), "", 10, connector.OrderOldest)
	require.Error(t, err)

	_, err = c.Discover(context.Background(), "file:///etc/passwd", 10, connector.OrderOldest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestDiscover_CrawlSkipsUnreadablePages(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body><a href="/broken">x</a><a href="/fine">y</a></body></html>`)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			fmt.Fprint(w, `<html><body><a href="/deeper">z</a></body></html>`)
		}
	}))
	defer server.Close()

	c := newTestConnector(t, server).WithDepth(3)

	items, err := c.Discover(context.Background(), server.URL, 10, connector.OrderOldest)
	require.NoError(t, err)

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	// /broken is still discovered as a link; only its expansion fails.
	assert.Equal(t, []string{
		server.URL,
		server.URL + "/broken",
		server.URL + "/fine",
		server.URL + "/deeper",
	}, ids)
}
