package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the singleton. Only the first call has an effect.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton, initializing a dev/info logger if Init was never
// called.
func L() *zap.Logger {
	Init(Config{Env: "dev", Level: "info"})
	return instance
}

func Named(name string) *zap.Logger {
	return L().Named(name)
}

func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
