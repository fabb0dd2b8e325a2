package zcall

import "go.uber.org/zap"

var l = newLogger()

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger replaces the logger used by Connection and Server, nil silences them.
// Call it before any Connection is created.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l = logger
}
