// Package gmail implements the mail.Client capability set on top of the
// Gmail API.
//
// The client is bound to one account and to an *http.Client that already
// carries the account's OAuth2 credentials; token refresh happens in that
// transport. Messages are fetched in "full" format and normalised into
// mail.Message, decoding the first text/plain and text/html parts.
//
// Failures are classified with the mail package helpers: API errors with a
// 4xx status become *mail.ProviderError (401 becomes
// mail.ErrCredentialsExpired), everything else mail.ErrTransport.
package gmail
