// Package lifecycle turns an account descriptor into a ready mail client.
//
// For every access the Engine classifies the stored token as Valid,
// ExpiredRefreshable, Dead or NoToken. Valid tokens are used as they are.
// Expired tokens with a refresh token are refreshed silently; when that
// fails the account falls back, exactly once, to an interactive
// authentication strategy. Every minted or refreshed token is written to the
// credential store before the engine returns, and the resulting client is
// verified with a profile request before it is handed out.
package lifecycle
