// Package logger builds the gateway's structured logger on log/slog.
// Production logs are JSON; every other environment gets the text handler.
// Each record carries the environment, and components log through a child
// logger tagged with their name.
package logger
