package logger

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	toolsConfig "github.com/ChenBigdata421/jxt-iot/sdk/config"
)

/*
分发热路径（入队、批处理、路由）一律使用 zap.Logger 结构化字段；
启动、运维类的低频日志可以使用 zap.SugaredLogger。
*/

type LogConfig struct {
	Path          string `yaml:"path"`
	ConsoleOutput bool   `yaml:"console_output"`
	Level         string `yaml:"level"`
	FileOutput    bool   `yaml:"file_output"`
	MaxSize       int    `yaml:"max_size"`
	InfoMaxAge    int    `yaml:"info_max_age"`
	ErrorMaxAge   int    `yaml:"error_max_age"`
	MaxBackups    int    `yaml:"max_backups"`
	Compress      bool   `yaml:"compress"`
}

// Setup 初始化全局日志记录器，放在程序运行前执行；cfg 为空时使用 config.LoggerConfig
func Setup(cfg *toolsConfig.Logger) *zap.Logger {
	if cfg == nil {
		cfg = toolsConfig.LoggerConfig
	}
	cfg.SetDefaults()

	config := LogConfig{
		Path:          cfg.Path,
		ConsoleOutput: cfg.Stdout,
		Level:         cfg.Level,
		FileOutput:    !cfg.DisableFile,
		MaxSize:       cfg.MaxSize,     // 日志文件最大大小，单位MB
		InfoMaxAge:    cfg.InfoMaxAge,  // 保留info日志文件的时间，单位天
		ErrorMaxAge:   cfg.ErrorMaxAge, // 保留error日志文件的时间，单位天
		MaxBackups:    cfg.MaxBackups,
		Compress:      true, // 压缩旧的日志文件
	}

	Logger = zap.New(newCore(config), zap.AddCaller())
	DefaultLogger = Logger.Sugar()
	return Logger
}

func newCore(config LogConfig) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// 解析日志级别，非法值回退到info
	var logLevel zapcore.Level
	if err := logLevel.UnmarshalText([]byte(config.Level)); err != nil {
		logLevel = zapcore.InfoLevel
	}

	var cores []zapcore.Core

	if config.FileOutput {
		if logLevel < zapcore.ErrorLevel {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				rollingWriter(config, "info.log", config.InfoMaxAge),
				zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
					return lvl >= logLevel && lvl < zapcore.ErrorLevel
				}),
			))
		}
		// error 文件始终记录
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			rollingWriter(config, "error.log", config.ErrorMaxAge),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= zapcore.ErrorLevel
			}),
		))
	}

	if config.ConsoleOutput {
		consoleEncoderConfig := encoderConfig
		consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig),
			zapcore.AddSync(os.Stdout),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= logLevel
			}),
		))
	}

	// 没有任何输出时挂一个丢弃型core，防止panic
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(io.Discard),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return false }),
		))
	}

	return zapcore.NewTee(cores...)
}

// rollingWriter 创建按大小滚动的日志文件写入器
func rollingWriter(config LogConfig, name string, maxAge int) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(config.Path, name),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     maxAge,
		Compress:   config.Compress,
	})
}
