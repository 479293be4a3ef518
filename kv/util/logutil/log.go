// Package logutil installs the process-wide structured logger.
//
// The level comes from the config, which in turn defaults to the `LOG_LEVEL` environment variable. Log output goes to
// stderr unless a log file is configured.
package logutil

import (
	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds a zap logger from conf and replaces pingcap/log's globals with it.
func InitLogger(conf *config.Config) error {
	logConf := &log.Config{
		Level: StringToLogLevel(conf.LogLevel),
		File: log.FileLogConfig{
			Filename: conf.LogFile,
		},
	}
	lg, props, err := log.InitLogger(logConf, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// StringToLogLevel normalises the level names accepted in config files to zap's names.
func StringToLogLevel(level string) string {
	switch level {
	case "fatal":
		return "fatal"
	case "error":
		return "error"
	case "warn", "warning":
		return "warn"
	case "debug":
		return "debug"
	case "info":
		return "info"
	}
	return "info"
}
