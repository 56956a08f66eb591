// Package store persists client configurations and OAuth tokens on the local
// filesystem.
//
// Layout of the store directory (mode 0700):
//
//	gmail_credentials.json          client configuration, account "gmail"
//	gmail_account1.json             client configuration, account "account1"
//	gmail_token_account1.token      token record for account1
//	outlook_credentials_work.json   client configuration, account "work"
//	outlook_token_work.token        token record for work
//	.tokens.lock                    advisory lock serialising token writes
//
// Token records are versioned JSON documents. Every write goes to a temporary
// file that is atomically renamed over the target, so a crash never leaves a
// half-written token behind.
package store
