// Package web fetches pages through the SSRF-guarded HTTP client and
// extracts their readable text. A target expands into linked same-host pages
// only when the request raises the crawl depth above one.
package web

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/internal/httpclient"
)

const (
	// DefaultTimeout bounds one page fetch.
	DefaultTimeout = 30 * time.Second

	userAgent = "veritas-nexus/1.0"
)

// skippedElements never contribute text or links.
var skippedElements = map[string]bool{
	"head":     true,
	"title":    true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
}

// blockElements delimit extracted text blocks.
var blockElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "td": true, "th": true, "article": true,
	"section": true, "div": true, "main": true, "figcaption": true,
}

// Connector fetches web pages and extracts visible text blocks.
type Connector struct {
	client *httpclient.SaferClient
	depth  int
	logger *zap.SugaredLogger
}

// New builds a web connector with SSRF protection enabled.
func New(timeout time.Duration, logger *zap.SugaredLogger) *Connector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connector{
		client: httpclient.NewSaferClient(timeout),
		depth:  1,
		logger: logger,
	}
}

// NewWithClient builds a web connector around an existing client. Used by
// tests to reach httptest servers on localhost.
func NewWithClient(client *httpclient.SaferClient, logger *zap.SugaredLogger) *Connector {
	return &Connector{
		client: client,
		depth:  1,
		logger: logger,
	}
}

// Name implements connector.Connector.
func (c *Connector) Name() string {
	return "web"
}

// WithDepth returns a copy bound to a per-run crawl depth. Depth 1 means
// the target page only.
func (c *Connector) WithDepth(depth int) connector.Connector {
	if depth < 1 {
		depth = 1
	}
	copied := *c
	copied.depth = depth
	return &copied
}

// Discover expands a target into pages. At depth 1 the target is the sole
// item; deeper runs breadth-first over same-host links up to limit pages.
// Items follow crawl order; newest reverses it. Pages that cannot be read
// during expansion are skipped, not fatal.
func (c *Connector) Discover(ctx context.Context, target string, limit int, order connector.Order) ([]connector.Item, error) {
	if target == "" {
		return nil, errors.New("web discovery requires a target URL")
	}
	if _, err := c.client.ValidateURL(target); err != nil {
		return nil, errors.Wrap(err, "web target rejected")
	}

	seen := map[string]bool{target: true}
	items := []connector.Item{{ID: target, URL: target}}
	frontier := []string{target}

	for level := 1; level < c.depth; level++ {
		if limit > 0 && len(items) >= limit {
			break
		}

		var next []string
		for _, pageURL := range frontier {
			if limit > 0 && len(items) >= limit {
				break
			}

			links, err := c.pageLinks(ctx, pageURL)
			if err != nil {
				c.logger.Warnw("Skipping unreadable page during crawl",
					"url", pageURL,
					"error", err,
				)
				continue
			}

			for _, link := range links {
				if seen[link] {
					continue
				}
				seen[link] = true
				items = append(items, connector.Item{ID: link, URL: link})
				next = append(next, link)
				if limit > 0 && len(items) >= limit {
					break
				}
			}
		}
		frontier = next
	}

	items = connector.CapItems(items, limit)
	if order == connector.OrderNewest {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	c.logger.Debugw("Web discovery complete",
		"target", target,
		"pages", len(items),
		"depth", c.depth,
	)
	return items, nil
}

// Fetch retrieves one page and converts its visible text blocks into
// segments anchored by ordinal position.
func (c *Connector) Fetch(ctx context.Context, itemID string) (*connector.Content, error) {
	body, contentType, err := c.get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var blocks []string
	switch {
	case strings.Contains(contentType, "text/html"), contentType == "":
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrapf(err, "parse HTML at %s", itemID)
		}
		blocks = extractBlocks(doc)
	case strings.Contains(contentType, "text/plain"):
		blocks = splitParagraphs(string(body))
	default:
		return nil, errors.Newf("unsupported content type %q at %s", contentType, itemID)
	}

	if len(blocks) == 0 {
		return nil, errors.Newf("no extractable text at %s", itemID)
	}

	segments := make([]connector.Segment, 0, len(blocks))
	for i, block := range blocks {
		segments = append(segments, connector.Segment{
			Text:    block,
			StartMS: int64(i),
		})
	}

	return &connector.Content{
		ItemID:   itemID,
		URL:      itemID,
		Segments: segments,
	}, nil
}

func (c *Connector) get(ctx context.Context, pageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", errors.Wrapf(err, "build request for %s", pageURL)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", errors.Wrapf(err, "fetch %s", pageURL)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", errors.Newf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := c.client.ReadBody(resp)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read %s", pageURL)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// pageLinks fetches a page and returns its same-host links, resolved
// absolute and fragment-stripped, in document order.
func (c *Connector) pageLinks(ctx context.Context, pageURL string) ([]string, error) {
	body, contentType, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(contentType, "text/html") && contentType != "" {
		return nil, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse page URL %s", pageURL)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "parse HTML at %s", pageURL)
	}

	var links []string
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] || isHidden(n) {
				return
			}
			if n.Data == "a" {
				if href := attrValue(n, "href"); href != "" {
					if link, ok := resolveLink(base, href); ok && !seen[link] {
						seen[link] = true
						links = append(links, link)
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return links, nil
}

// resolveLink makes href absolute against base and keeps it only when it
// stays on the same host over http(s).
func resolveLink(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Hostname() != base.Hostname() {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// extractBlocks walks the parsed document and returns the visible text,
// one whitespace-collapsed string per block-level element.
func extractBlocks(doc *html.Node) []string {
	var blocks []string
	var current strings.Builder

	flush := func() {
		text := strings.Join(strings.Fields(current.String()), " ")
		current.Reset()
		if text != "" {
			blocks = append(blocks, text)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedElements[n.Data] || isHidden(n) {
				return
			}
			isBlock := blockElements[n.Data]
			if isBlock {
				flush()
			}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				walk(child)
			}
			if isBlock {
				flush()
			}
		case html.TextNode:
			current.WriteString(n.Data)
			current.WriteByte(' ')
		default:
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				walk(child)
			}
		}
	}
	walk(doc)
	flush()

	return blocks
}

func isHidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(attr.Val, " ", "")
			if strings.Contains(style, "display:none") {
				return true
			}
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// splitParagraphs breaks plain text on blank lines.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")

	blocks := make([]string, 0, len(parts))
	for _, part := range parts {
		collapsed := strings.Join(strings.Fields(part), " ")
		if collapsed != "" {
			blocks = append(blocks, collapsed)
		}
	}
	return blocks
}
