// Package logx configures smores' structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional ops sink (min-level + rate limiting), usually the Telegram ops chat
package logx
