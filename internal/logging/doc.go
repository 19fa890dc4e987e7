// Package logging sets up structured JSON logging for ragcore with
// size-based file rotation under ~/.ragcore/logs/.
//
// CLI commands may mirror logs to stderr. The MCP server must not: stdout
// and stderr belong to the protocol stream, so SetupServeMode logs to the
// file only.
package logging
