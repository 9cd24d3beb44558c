// logger.go - zap loggers of the proof server daemon.
package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Output goes to stdout and, if set, to
// logFile. When auditFile is set, the returned audit logger writes there and
// also receives every warning and error of the process logger.
func NewLogger(level, logFile, auditFile string) (*zap.Logger, *zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	if logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, nil, err
	}

	if auditFile == "" {
		return logger, zap.NewNop(), nil
	}

	auditConfig := zap.NewProductionConfig()
	auditConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	auditConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	auditConfig.OutputPaths = []string{auditFile}
	audit, err := auditConfig.Build()
	if err != nil {
		_ = logger.Sync()

		return nil, nil, err
	}
	audit = audit.Named("audit")

	warnings, err := zapcore.NewIncreaseLevelCore(audit.Core(), zapcore.WarnLevel)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, warnings)
	}))

	return logger, audit, nil
}
