// Package logx configures remindbot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output with a short timestamp and file:line caller
//   - JSON file output
//   - optional Telegram sink for warnings (min level + rate limit)
package logx
