package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return ansiRegex.ReplaceAllString(str, "")
}

// TestMinimalEncoderNeverDiscardsFields ensures the console encoder never
// silently drops log fields. Anything not special-cased must still appear
// as key=value.
func TestMinimalEncoderNeverDiscardsFields(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "test",
		Message:    "Testing field preservation",
	}

	testFields := []struct {
		field    zapcore.Field
		mustFind string
	}{
		{zap.String("handler", "ingest.run"), "handler=ingest.run"},
		{zap.String("target", "@somechannel"), "target=@somechannel"},
		{zap.Bool("paused", true), "paused=true"},
		{zap.Float64("budget_usd", 0.8), "budget_usd=0.8"},
		{zap.Strings("connectors", []string{"youtube", "web"}), "connectors"},
		{zap.Int("critical_count", 999), "critical_count=999"},
		{zap.String("field_with_underscores", "test"), "field_with_underscores=test"},
		{zap.Int64("int64_field", 9999999), "int64_field=9999999"},
		{zap.Bool("success", false), "success=false"},

		// nil error must not crash
		{zap.Error(nil), ""},
		{zap.String("error", "transcript unavailable"), "error=transcript unavailable"},

		// Special-cased display fields keep value-only rendering
		{zap.String("job_id", "ab12"), "ab12"},
		{zap.Int("videos", 10), "10"},
		{zap.Int("segments", 500), "500"},
	}

	var allFields []zapcore.Field
	for _, tf := range testFields {
		allFields = append(allFields, tf.field)
	}

	buf, err := encoder.EncodeEntry(entry, allFields)
	if err != nil {
		t.Fatalf("Failed to encode entry: %v", err)
	}

	cleanOutput := stripANSI(buf.String())

	for _, tf := range testFields {
		if tf.mustFind != "" && !strings.Contains(cleanOutput, tf.mustFind) {
			t.Errorf("Field was silently discarded from log output: %s\nOutput: %s", tf.mustFind, cleanOutput)
		}
	}
}

func TestMinimalEncoderFieldCount(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "test",
		Message:    "Field count test",
	}

	fields := []zapcore.Field{
		zap.String("field1", "value1"),
		zap.String("field2", "value2"),
		zap.String("field3", "value3"),
		zap.Int("field4", 4),
		zap.Bool("field5", true),
		zap.Float64("field6", 6.6),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	output := stripANSI(buf.String())

	fieldCount := strings.Count(output, "field1=") +
		strings.Count(output, "field2=") +
		strings.Count(output, "field3=") +
		strings.Count(output, "field4=") +
		strings.Count(output, "field5=") +
		strings.Count(output, "field6=")

	if fieldCount != 6 {
		t.Errorf("Expected 6 fields in output, but found %d. Output: %s", fieldCount, output)
	}
}

func TestUnknownFieldTypes(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "test",
		Message:    "Testing unknown field types",
	}

	fields := []zapcore.Field{
		zap.Duration("duration", 5*time.Second),
		zap.Time("timestamp", time.Now()),
		zap.Uint("uint", 100),
		zap.Uint64("uint64", 5000000000),
		zap.ByteString("bytes", []byte("hello world")),
		zap.Binary("binary", []byte{0x01, 0x02, 0x03}),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("Failed to encode complex types: %v", err)
	}

	cleanOutput := stripANSI(buf.String())

	expectedSubstrings := []string{
		"duration",
		"timestamp",
		"uint",
		"bytes",
		"binary",
	}

	for _, expected := range expectedSubstrings {
		if !strings.Contains(cleanOutput, expected) {
			t.Errorf("Field with key '%s' was completely dropped from output: %s", expected, cleanOutput)
		}
	}
}

func TestMessageBracketColorization(t *testing.T) {
	out := colorizeMessage("Stage complete [job:ab12] [provenance]")

	if !strings.Contains(out, colors.blue+"[job:ab12]"+colorReset) {
		t.Errorf("job bracket not colorized as id: %q", out)
	}
	if !strings.Contains(out, colors.orange+"[provenance]"+colorReset) {
		t.Errorf("stage bracket not colorized as stage: %q", out)
	}
	if stripANSI(out) != "Stage complete [job:ab12] [provenance]" {
		t.Errorf("colorization altered message text: %q", stripANSI(out))
	}
}

func TestAbbreviateName(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"server", "server"},
		{"pulse.worker", "p.worker"},
		{"pipeline.runner", "p.runner"},
		{"a.b.c", "a.b.c"},
	}

	for _, tc := range testCases {
		if got := abbreviateName(tc.in); got != tc.want {
			t.Errorf("abbreviateName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWarnLevelShown(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       time.Now(),
		LoggerName: "pulse.worker",
		Message:    "Budget exceeded, pausing job",
	}

	buf, err := encoder.EncodeEntry(entry, nil)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	clean := stripANSI(buf.String())
	if !strings.Contains(clean, "WARN") {
		t.Errorf("WARN marker missing: %s", clean)
	}
	if !strings.Contains(clean, "p.worker") {
		t.Errorf("abbreviated component missing: %s", clean)
	}
}

func TestInfoLevelHidden(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Now(),
		Message: "Job enqueued",
	}

	buf, err := encoder.EncodeEntry(entry, nil)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	clean := stripANSI(buf.String())
	if strings.Contains(clean, "INFO") {
		t.Errorf("INFO marker should be suppressed: %s", clean)
	}
}
