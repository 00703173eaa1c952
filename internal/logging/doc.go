// Package logging provides structured logging for flashdesk.
//
// This package wraps Go's log/slog to produce JSON (or text, for plain
// terminal output) log entries with persistent context attributes. Every
// session transition, gateway call and readiness cycle is logged through it.
//
// # Features
//
//   - JSON or text structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (resource ID, session state, component)
//   - Size-based log rotation with optional gzip compression
//   - Redaction of attributes named secret, password or credential_secret
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithComponent("orchestrator").WithResource("i-0abc")
//	log.Info("resource provisioned", "class", "t2.small")
//
// Secret values are never logged. Types that carry secrets implement
// slog.LogValuer, and the handler additionally blanks any attribute whose
// key names secret material:
//
//	log.Debug("create request", "secret", req.Secret) // secret=[REDACTED]
package logging
