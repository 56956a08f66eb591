// Package cmd implements the command-line interface for clawmail.
//
// This package provides the following commands:
//   - auth: Authenticate accounts, show token status, or import tokens
//   - accounts: List discovered accounts and their token state
//   - read, search, send: Use a ready account
//   - serve: Start the MCP server over stdio
//   - setup: Print provider setup instructions
//   - version: Display version information
package cmd
