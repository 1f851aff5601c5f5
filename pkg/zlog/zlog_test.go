package zlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestReplaceRoutesPackageFunctions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(zap.NewNop()) })

	Info("sync completed", zap.String("sourceId", "doc-1"))
	Warn("delete failed")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "sync completed", entries[0].Message)
		assert.Equal(t, "doc-1", entries[0].ContextMap()["sourceId"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	}
}
