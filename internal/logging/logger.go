package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"docpay-service/internal/config"
	"docpay-service/internal/logcontext"
	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "docpay-service"

func GetLogger(cfg config.Logs) *slog.Logger {
	level := parseLevel(cfg.Level)

	if cfg.URL != "" {
		logger, err := remoteLogger(cfg.URL, level)
		if err == nil {
			return logger
		}
		localLogger(os.Stdout, level).Error("Error creating loki client, falling back to stdout", "error", err)
	}

	if cfg.File != "" {
		return localLogger(io.MultiWriter(os.Stdout, fileWriter(cfg.File)), level)
	}

	return localLogger(os.Stdout, level)
}

func localLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(logcontext.ContextHandler{Handler: handler}).With("service", serviceName)
}

func remoteLogger(url string, level slog.Level) (*slog.Logger, error) {
	lokiConfig, err := loki.NewDefaultConfig(url)
	if err != nil {
		return nil, err
	}
	client, err := loki.New(lokiConfig)
	if err != nil {
		return nil, err
	}

	handler := slogloki.Option{
		Level:  level,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			logcontext.Attrs,
		},
	}.NewLokiHandler()

	return slog.New(handler).With("service", serviceName), nil
}

func fileWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
