package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLazyLogger_FollowsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	l := Logger("core/test")

	var buf bytes.Buffer
	SetOutputWithLevel(&buf, LevelDebug)
	l.Debug("first", "n", 1)

	assert.Contains(t, buf.String(), "component=core/test")
	assert.Contains(t, buf.String(), "msg=first")
	assert.True(t, l.Enabled(LevelDebug))

	var other bytes.Buffer
	SetOutput(&other)
	l.Debug("hidden")
	l.Info("second")

	assert.NotContains(t, other.String(), "hidden")
	assert.Contains(t, other.String(), "msg=second")
	assert.False(t, l.Enabled(LevelDebug))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "12345678", TruncateID("1234567890", 8))
}

func TestSetupFromEnv(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	t.Setenv("IRPC_LOG_LEVEL", "core/reactor=debug,warn")

	var buf bytes.Buffer
	SetupFromEnv(&buf)

	reactor := Logger("core/reactor")
	session := Logger("protocol/session")

	assert.True(t, reactor.Enabled(LevelDebug))
	assert.False(t, session.Enabled(LevelInfo))

	reactor.Debug("poll")
	session.Info("dropped")
	session.Warn("kept")

	assert.Contains(t, buf.String(), "msg=poll")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}
