// Package email_tools registers the provider-neutral email tools of the MCP
// server: email_accounts, email_read, email_search and email_send.
//
// Every tool takes an optional "account" argument holding an account id
// (account1, work) or a provider name (gmail, outlook). Without it the only
// ready account is used.
package email_tools
