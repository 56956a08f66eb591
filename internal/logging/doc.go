// Package logging provides structured logging utilities for clawmail.
//
// All packages log through log/slog. This package keeps attribute names
// consistent (account, provider, strategy, stage, state) and makes sure
// secrets never reach the output.
//
// # Usage Patterns
//
// Scope a logger to an account:
//
//	logger := logging.WithAccount(slog.Default(), "work", "gmail")
//	logger.Info("token refreshed", logging.State("valid"))
//
// Never log token material directly:
//
//	logger.Debug("token loaded", "access_token", logging.SanitizeToken(tok.AccessToken))
//
// Email addresses are hashed with AnonymizeEmail/UserHash so log lines can be
// correlated without exposing PII.
package logging
