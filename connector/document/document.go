// Package document ingests standalone files: PDFs, plain text, and TOML
// manifests describing a document set. Remote or local sources are resolved
// through go-getter, so http(s), file paths, and anything else its detectors
// understand all work as targets.
package document

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/errors"
)

// DefaultTimeout bounds one document fetch.
const DefaultTimeout = 60 * time.Second

// Config holds the document connector knobs.
type Config struct {
	// Timeout bounds each fetch. Zero means DefaultTimeout.
	Timeout time.Duration

	// ScratchDir is where fetched files land before extraction.
	// Empty means the system temp directory.
	ScratchDir string
}

// Connector fetches documents and extracts their text.
type Connector struct {
	timeout time.Duration
	scratch string
	logger  *zap.SugaredLogger
}

// New builds a document connector.
func New(cfg Config, logger *zap.SugaredLogger) *Connector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connector{
		timeout: timeout,
		scratch: cfg.ScratchDir,
		logger:  logger,
	}
}

// Name implements connector.Connector.
func (c *Connector) Name() string {
	return "pdf"
}

// manifest is the TOML shape for a document-set target.
//
//	[[documents]]
//	id = "report-q1"
//	url = "https://example.com/q1.pdf"
//	title = "Q1 Report"
//	date = "20240401"
type manifest struct {
	Documents []manifestEntry `toml:"documents"`
}

type manifestEntry struct {
	ID    string `toml:"id"`
	URL   string `toml:"url"`
	Title string `toml:"title"`
	Date  string `toml:"date"`
}

// Discover resolves a target into document items. A .toml target is fetched
// and read as a manifest; anything else is a single document.
func (c *Connector) Discover(ctx context.Context, target string, limit int, order connector.Order) ([]connector.Item, error) {
	if target == "" {
		return nil, errors.New("document discovery requires a target")
	}

	if sourceExt(target) != ".toml" {
		return []connector.Item{{ID: target, URL: target}}, nil
	}

	path, cleanup, err := c.fetchFile(ctx, target)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", target)
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", target)
	}

	items := make([]connector.Item, 0, len(m.Documents))
	for _, doc := range m.Documents {
		if doc.URL == "" {
			c.logger.Warnw("Manifest entry without url skipped",
				"manifest", target,
				"id", doc.ID,
			)
			continue
		}
		id := doc.ID
		if id == "" {
			id = doc.URL
		}
		items = append(items, connector.Item{
			ID:         id,
			Title:      doc.Title,
			URL:        doc.URL,
			UploadDate: doc.Date,
		})
	}

	connector.SortItems(items, order)
	items = connector.CapItems(items, limit)

	c.logger.Debugw("Document manifest resolved",
		"manifest", target,
		"documents", len(items),
	)
	return items, nil
}

// Fetch retrieves one document and extracts its text as paragraph segments
// anchored by ordinal position across the whole document.
func (c *Connector) Fetch(ctx context.Context, itemID string) (*connector.Content, error) {
	if itemID == "" {
		return nil, errors.New("document fetch requires a source")
	}

	path, cleanup, err := c.fetchFile(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var blocks []string
	switch ext := sourceExt(itemID); ext {
	case ".pdf":
		pages, err := extractPDFText(path)
		if err != nil {
			return nil, errors.Wrapf(err, "extract PDF %s", itemID)
		}
		for _, page := range pages {
			blocks = append(blocks, splitParagraphs(page)...)
		}
	case ".txt", ".md", ".text", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read document %s", itemID)
		}
		blocks = splitParagraphs(string(data))
	default:
		return nil, errors.Newf("unsupported document type %q for %s", ext, itemID)
	}

	if len(blocks) == 0 {
		return nil, errors.Newf("no extractable text in %s", itemID)
	}

	segments := make([]connector.Segment, 0, len(blocks))
	for i, block := range blocks {
		segments = append(segments, connector.Segment{
			Text:    block,
			StartMS: int64(i),
		})
	}

	c.logger.Debugw("Document extracted",
		"source", itemID,
		"segments", len(segments),
	)
	return &connector.Content{
		ItemID:   itemID,
		URL:      itemID,
		Segments: segments,
	}, nil
}

// fetchFile resolves a source to a local file in a scratch directory. The
// cleanup func removes the scratch directory.
func (c *Connector) fetchFile(ctx context.Context, src string) (string, func(), error) {
	dir, err := os.MkdirTemp(c.scratch, "veritas-doc-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "create document scratch dir")
	}
	cleanup := func() { os.RemoveAll(dir) }

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dst := filepath.Join(dir, "document"+sourceExt(src))
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "fetch document %s", src)
	}

	return dst, cleanup, nil
}

// sourceExt extracts the lowercase file extension from a path or URL,
// ignoring query strings.
func sourceExt(src string) string {
	path := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		path = u.Path
	}
	return strings.ToLower(filepath.Ext(path))
}

// splitParagraphs breaks text on blank lines, collapsing whitespace inside
// each paragraph.
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
