// Package logging provides opt-in file-based structured logging with
// rotation. When debug logging is enabled, comprehensive logs are written
// to ~/.memorybank/logs/ for debugging and troubleshooting.
//
// By default, logging is minimal and goes to stderr only.
package logging
