package core

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Must be initialized with a call to initLogger. Until then, a no-op logger is used
var ilogger = zap.NewNop().Sugar()

// Level of the logger, for cheap checks before building expensive log lines
var logLevel = zap.NewAtomicLevelAt(zapcore.DebugLevel)

const defaultLogConfig = `{
	"level": "debug",
	"development": true,
	"encoding": "console",
	"outputPaths": ["stdout"],
	"errorOutputPaths": ["stderr"],
	"disableCaller": false,
	"disableStackTrace": false,
	"encoderConfig": {
		"messageKey": "message",
		"levelKey": "level",
		"levelEncoder": "lowercase",
		"callerKey": "caller",
		"callerEncoder": "",
		"timeKey": "ts",
		"timeEncoder": "ISO8601"
		}
	}`

// https://pkg.go.dev/go.uber.org/zap
// Configures the global logger with the contents of log.json, or with a
// default development configuration if not found
func initLogger(cm *ConfigurationManager) {

	jConfig, err := cm.GetBytesConfigObject("log.json")
	if err != nil {
		fmt.Println("using default logging configuration")
		jConfig = []byte(defaultLogConfig)
	}

	var cfg zap.Config
	if err := json.Unmarshal(jConfig, &cfg); err != nil {
		panic("bad logging configuration: " + err.Error())
	}

	logger, logError := cfg.Build()
	if logError != nil {
		panic(logError)
	}

	logLevel = cfg.Level
	ilogger = logger.Sugar()
}

// Used globally to get access to the logger
func GetLogger() *zap.SugaredLogger {
	return ilogger
}

// True if the specified level would be logged
func IsLevelEnabled(level zapcore.Level) bool {
	return logLevel.Enabled(level)
}
