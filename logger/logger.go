package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type customLogger struct {
	fd *os.File
}

func (c customLogger) Write(p []byte) (n int, err error) {
	return c.fd.Write(p)
}

func (c customLogger) Sync() error {
	return c.fd.Sync()
}

var logLevel = os.Getenv("PROTOPLUS_LOG_LEVEL")

func getLogLevel() zapcore.Level {
	if logLevel == "" {
		return zapcore.InfoLevel
	}
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// getFd opens PROTOPLUS_LOG_FILE for appending, falling back to stderr.
func getFd() *os.File {
	logPath := os.Getenv("PROTOPLUS_LOG_FILE")
	if logPath == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stderr
	}
	return f
}

var Logger = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(
	zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}), &customLogger{fd: getFd()}, getLogLevel())).Named("protoplus")

func Debug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, fields...)
}
