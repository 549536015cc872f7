// Package youtube discovers channel videos and fetches their transcripts by
// shelling out to yt-dlp. Discovery uses the flat-playlist JSON dump;
// transcripts come from the json3 subtitle track (uploaded or automatic).
package youtube

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/errors"
)

const (
	// DefaultBinary is the yt-dlp executable resolved via PATH.
	DefaultBinary = "yt-dlp"

	// DefaultTimeout bounds one yt-dlp invocation.
	DefaultTimeout = 60 * time.Second

	// minVersion is the oldest yt-dlp release whose json3 subtitle output
	// this parser has been verified against.
	minVersion = "2023.1.1"
)

// Config holds the operator-tunable knobs for the yt-dlp integration.
type Config struct {
	// Binary overrides the yt-dlp executable path. Empty means PATH lookup.
	Binary string

	// Timeout bounds each yt-dlp invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	// SubtitleLangs is the --sub-langs selector. Empty means "en".
	SubtitleLangs string

	// ExtraArgs is a shell-quoted string of additional yt-dlp flags
	// (proxies, cookies, rate limits) appended to every invocation.
	ExtraArgs string

	// MinVersion overrides the semver floor HealthCheck enforces on the
	// binary. Empty means the package default.
	MinVersion string
}

// Connector shells out to yt-dlp for discovery and transcript fetch.
type Connector struct {
	binary    string
	timeout   time.Duration
	subLangs  string
	extraArgs []string
	minVer    string
	logger    *zap.SugaredLogger

	// runCommand is swapped in tests to avoid requiring the binary.
	runCommand func(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// New builds a yt-dlp backed connector. ExtraArgs are split with shell
// quoting rules so operators can pass values containing spaces.
func New(cfg Config, logger *zap.SugaredLogger) (*Connector, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	subLangs := cfg.SubtitleLangs
	if subLangs == "" {
		subLangs = "en"
	}

	var extraArgs []string
	if cfg.ExtraArgs != "" {
		parsed, err := shellquote.Split(cfg.ExtraArgs)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid yt-dlp extra args %q", cfg.ExtraArgs)
		}
		extraArgs = parsed
	}

	minVer := cfg.MinVersion
	if minVer == "" {
		minVer = minVersion
	}

	return &Connector{
		binary:     binary,
		timeout:    timeout,
		subLangs:   subLangs,
		extraArgs:  extraArgs,
		minVer:     minVer,
		logger:     logger,
		runCommand: runYtdlp,
	}, nil
}

func runYtdlp(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}

// Name implements connector.Connector.
func (c *Connector) Name() string {
	return "youtube"
}

// Discover lists a channel or playlist via the flat-playlist JSON dump,
// sorted by upload date with video id as the tie-break.
func (c *Connector) Discover(ctx context.Context, target string, limit int, order connector.Order) ([]connector.Item, error) {
	if target == "" {
		return nil, errors.New("youtube discovery requires a target URL")
	}

	args := append([]string{"-J", "--flat-playlist"}, c.extraArgs...)
	args = append(args, target)

	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "yt-dlp discovery for %s", target)
	}

	var playlist struct {
		Entries []struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			UploadDate string `json:"upload_date"`
			URL        string `json:"url"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(output, &playlist); err != nil {
		return nil, errors.Wrapf(err, "parse yt-dlp playlist for %s", target)
	}

	items := make([]connector.Item, 0, len(playlist.Entries))
	for _, entry := range playlist.Entries {
		if entry.ID == "" {
			continue
		}
		url := entry.URL
		if url == "" {
			url = WatchURL(entry.ID)
		}
		items = append(items, connector.Item{
			ID:         entry.ID,
			Title:      entry.Title,
			URL:        url,
			UploadDate: entry.UploadDate,
		})
	}

	connector.SortItems(items, order)
	items = connector.CapItems(items, limit)

	c.logger.Debugw("YouTube discovery complete",
		"target", target,
		"videos", len(items),
		"order", order,
	)
	return items, nil
}

// Fetch downloads the json3 subtitle track for one video and converts it to
// time-anchored segments. Videos without any subtitle track are an error;
// the pipeline records them as missing and moves on.
func (c *Connector) Fetch(ctx context.Context, itemID string) (*connector.Content, error) {
	if itemID == "" {
		return nil, errors.New("youtube fetch requires a video id")
	}

	dir, err := os.MkdirTemp("", "veritas-subs-*")
	if err != nil {
		return nil, errors.Wrap(err, "create subtitle scratch dir")
	}
	defer os.RemoveAll(dir)

	url := WatchURL(itemID)
	args := append([]string{
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", c.subLangs,
		"--sub-format", "json3",
		"--paths", dir,
		"--output", "transcript",
	}, c.extraArgs...)
	args = append(args, url)

	if _, err := c.run(ctx, args...); err != nil {
		return nil, errors.Wrapf(err, "yt-dlp subtitles for %s", itemID)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "transcript*.json3"))
	if err != nil {
		return nil, errors.Wrap(err, "glob subtitle files")
	}
	if len(matches) == 0 {
		return nil, errors.Newf("no transcript available for %s", itemID)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read subtitle file for %s", itemID)
	}

	segments, err := parseJSON3(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse transcript for %s", itemID)
	}

	c.logger.Debugw("YouTube transcript fetched",
		"video_id", itemID,
		"segments", len(segments),
	)
	return &connector.Content{
		ItemID:   itemID,
		URL:      url,
		Segments: segments,
	}, nil
}

// HealthCheck verifies the binary is callable and recent enough for the
// json3 parser. Meant for daemon startup, not the per-job path.
func (c *Connector) HealthCheck(ctx context.Context) error {
	output, err := c.run(ctx, "--version")
	if err != nil {
		return errors.WithHint(
			errors.Wrap(err, "yt-dlp not available"),
			"install yt-dlp and ensure it is on PATH, or set connectors.youtube.binary",
		)
	}

	raw := strings.TrimSpace(string(output))
	version, err := semver.NewVersion(raw)
	if err != nil {
		return errors.Wrapf(err, "unparseable yt-dlp version %q", raw)
	}

	constraint, err := semver.NewConstraint(">= " + c.minVer)
	if err != nil {
		return errors.Wrap(err, "invalid version constraint")
	}
	if !constraint.Check(version) {
		return errors.Newf("yt-dlp %s is older than required %s", raw, c.minVer)
	}
	return nil
}

func (c *Connector) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	output, err := c.runCommand(ctx, c.binary, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, errors.Newf("yt-dlp failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return output, nil
}

// WatchURL returns the canonical watch URL for a video id. Ids that already
// look like URLs pass through unchanged.
func WatchURL(videoID string) string {
	if strings.HasPrefix(videoID, "http://") || strings.HasPrefix(videoID, "https://") {
		return videoID
	}
	return "https://www.youtube.com/watch?v=" + videoID
}

// parseJSON3 converts a json3 subtitle document into segments. Events with
// no renderable text are dropped; events sharing a start time are merged so
// segment anchors stay distinct within the video.
func parseJSON3(data []byte) ([]connector.Segment, error) {
	var doc struct {
		Events []struct {
			TStartMs int64 `json:"tStartMs"`
			Segs     []struct {
				UTF8 string `json:"utf8"`
			} `json:"segs"`
		} `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	segments := make([]connector.Segment, 0, len(doc.Events))
	for _, event := range doc.Events {
		var sb strings.Builder
		for _, seg := range event.Segs {
			sb.WriteString(seg.UTF8)
		}
		text := strings.Join(strings.Fields(sb.String()), " ")
		if text == "" {
			continue
		}

		if n := len(segments); n > 0 && segments[n-1].StartMS == event.TStartMs {
			segments[n-1].Text += " " + text
			continue
		}
		segments = append(segments, connector.Segment{
			Text:    text,
			StartMS: event.TStartMs,
		})
	}
	return segments, nil
}
