// Package logger holds the process-wide zap logger.
//
// Init configures it once from main; L, Named and With read it from
// anywhere. Operations that already carry a context use From(ctx), which
// falls back to the singleton when nothing was attached with ToContext.
//
//	logger.Init(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel})
//	defer logger.Sync()
//
//	logger.From(ctx).Info("descriptor built", logger.Stack(name), logger.Fingerprint(fp))
package logger
