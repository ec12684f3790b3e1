// Package logging 负责 logrus 的初始化与代理日志的公共字段。
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/p2-hub/internal/config"
)

// InitLogger 按 Global 配置构造 JSON logger，并同步到 logrus 标准 logger，
// 这样未注入 logger 的包（如 fetch 的默认值）也写到同一输出。
//
// 日志文件不可用时退回 stdout，并记录一条 logger_fallback 警告；
// 只有日志级别非法才返回错误。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别 %q: %w", cfg.LogLevel, err)
	}

	out, fallbackErr := openOutput(cfg)
	if fallbackErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", fallbackErr)
	}

	logger := &logrus.Logger{
		Out:       out,
		Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	mirrorStandardLogger(logger)

	if fallbackErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).WithError(fallbackErr).Warn("log file unavailable, writing to stdout")
	}
	return logger, nil
}

func mirrorStandardLogger(logger *logrus.Logger) {
	std := logrus.StandardLogger()
	std.SetFormatter(logger.Formatter)
	std.SetOutput(logger.Out)
	std.SetLevel(logger.Level)
}

// openOutput 返回 stdout 或按大小滚动的文件 writer。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
