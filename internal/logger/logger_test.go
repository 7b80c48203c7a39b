package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	defer SetLevel("info")

	assert.Equal(t, slog.LevelWarn, SetLevel("WARNING"))
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")

	assert.Equal(t, slog.LevelInfo, SetLevel("nonsense"))
}

func TestDumpJudgmentSections(t *testing.T) {
	var buf bytes.Buffer
	SetJudgmentWriter(&buf)
	defer SetJudgmentWriter(nil)

	assert.True(t, JudgmentDumpEnabled())
	DumpJudgment("t-1", "request", map[string]string{"system": "sys", "user": "usr"}, "system", "user")
	out := buf.String()
	assert.Contains(t, out, "[JUDGMENT][request][t-1]")
	assert.Less(t, strings.Index(out, "--- SYSTEM ---"), strings.Index(out, "--- USER ---"))
}
