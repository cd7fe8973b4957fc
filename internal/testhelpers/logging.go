package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes the global logger to the test output for the duration
// of the test.
func SetupLogger(t *testing.T) {
	t.Helper()

	previous := log.Logger
	previousDefault := zerolog.DefaultContextLogger

	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	zerolog.DefaultContextLogger = &log.Logger

	t.Cleanup(func() {
		log.Logger = previous
		zerolog.DefaultContextLogger = previousDefault
	})
}

// LogBuffer collects JSON log lines written by a context logger.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Entries decodes every line written so far.
func (b *LogBuffer) Entries(t *testing.T) []map[string]any {
	t.Helper()

	b.mu.Lock()
	lines := strings.Split(strings.TrimSpace(b.buf.String()), "\n")
	b.mu.Unlock()

	var entries []map[string]any
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not valid JSON: %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// CaptureLogs returns a context carrying a logger that writes to the
// returned buffer.
func CaptureLogs(t *testing.T) (context.Context, *LogBuffer) {
	t.Helper()

	buf := &LogBuffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)

	return logger.WithContext(context.Background()), buf
}
