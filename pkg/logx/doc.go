// Package logx configures pinga's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - optional alert forwarding (min-level + rate limiting)
package logx
