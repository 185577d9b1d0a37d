package debug

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDebugOutputRespectsFlag(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger("debug", false, &buf)
	defer SetupLogger("info", false, nil)

	DebugOutput(false, "hidden %d", 1)
	assert.Empty(t, buf.String())

	DebugOutput(true, "shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")

	done := DebugTiming(true, "scoring")
	done()
	assert.Contains(t, buf.String(), `"operation":"scoring"`)
}

func TestSetupLoggerLevel(t *testing.T) {
	SetupLogger("warn", false, &bytes.Buffer{})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetupLogger("nonsense", false, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
