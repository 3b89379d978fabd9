package config

import (
	"sync"

	"go.uber.org/zap/zapcore"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/utils"
)

// debugSources tracks every input that can ask for debug logging. Any one of them is enough.
var debugSources struct {
	mu     sync.Mutex
	logger logging.Logger

	flag bool
	env  bool
	file bool
}

// InitLoggingSettings sets the global log level from the --debug flag and RGBDVIEW_DEBUG. A
// previously read config file no longer counts.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool) {
	debugSources.mu.Lock()
	defer debugSources.mu.Unlock()

	debugSources.logger = logger
	debugSources.flag = cmdLineDebugFlag
	debugSources.env = utils.DebugFromEnv()
	debugSources.file = false
	logging.GlobalLogLevel.SetLevel(wantedLevelLocked())
	logger.Debugw("log level initialized", "level", logging.GlobalLogLevel.Level().String())
}

// UpdateFileConfigDebug records whether the config file asks for debug logging.
func UpdateFileConfigDebug(fileDebug bool) {
	debugSources.mu.Lock()
	defer debugSources.mu.Unlock()

	debugSources.file = fileDebug
	level := wantedLevelLocked()
	if logging.GlobalLogLevel.Level() == level {
		return
	}
	if debugSources.logger != nil {
		debugSources.logger.Infow("new log level", "level", level.String())
	}
	logging.GlobalLogLevel.SetLevel(level)
}

func wantedLevelLocked() zapcore.Level {
	if debugSources.flag || debugSources.env || debugSources.file {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
