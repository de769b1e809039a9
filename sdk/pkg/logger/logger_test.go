package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	toolsConfig "github.com/ChenBigdata421/jxt-iot/sdk/config"
)

// TestDefaultLoggerIsUsable 测试 Setup 之前全局 logger 可用
func TestDefaultLoggerIsUsable(t *testing.T) {
	require.NotNil(t, Logger)
	require.NotNil(t, DefaultLogger)
	assert.NotPanics(t, func() {
		Infof("dispatcher %s", "ready")
		Named("test").Info("named logger")
	})
}

// TestWithTrace 测试 traceID 写入与读取
func TestWithTrace(t *testing.T) {
	ctx := WithTrace(context.Background(), "trace-001")
	assert.Equal(t, "trace-001", TraceID(ctx))
	assert.NotNil(t, FromContext(ctx))

	// 未设置时回退到全局 logger
	assert.Same(t, Logger, FromContext(context.Background()))
	assert.Equal(t, "", TraceID(context.Background()))
}

// TestSetup_WritesFiles 测试文件输出
func TestSetup_WritesFiles(t *testing.T) {
	previous := Logger
	defer func() {
		Logger = previous
		DefaultLogger = previous.Sugar()
	}()

	dir := t.TempDir()
	l := Setup(&toolsConfig.Logger{
		Path:  dir,
		Level: "debug",
	})
	require.NotNil(t, l)

	l.Info("partition started", zap.Int("partition", 3))
	l.Error("handler failed", zap.String("topic", "/sys/P1/D1/thing/event/property/post"))
	_ = l.Sync()

	_, err := os.Stat(filepath.Join(dir, "info.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "error.log"))
	assert.NoError(t, err)
}

// TestSetup_NoOutput 测试关闭所有输出时不会panic
func TestSetup_NoOutput(t *testing.T) {
	previous := Logger
	defer func() {
		Logger = previous
		DefaultLogger = previous.Sugar()
	}()

	l := Setup(&toolsConfig.Logger{DisableFile: true, Level: "not-a-level"})
	assert.NotPanics(t, func() { l.Warn("discarded") })
}
