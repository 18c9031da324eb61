package logging

import "go.uber.org/zap"

type Logger = zap.SugaredLogger

func New() *Logger {
	l, _ := zap.NewProduction()
	return l.Sugar()
}

// NewDev returns a console logger with debug enabled, for the CLI tools.
func NewDev() *Logger {
	l, _ := zap.NewDevelopment()
	return l.Sugar()
}
