// Package common provides shared helpers for the MCP tool handlers: argument
// parsing, account selection and instrumentation.
package common
