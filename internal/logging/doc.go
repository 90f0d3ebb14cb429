// Package logging configures structured slog output for recall.
//
// Logs are JSON lines written to a size-rotated file under ~/.recall/logs/,
// optionally mirrored to stderr. The MCP server must never write to stdout,
// so serve mode disables the stderr mirror as well.
package logging
