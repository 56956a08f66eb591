// Package mail defines the provider-neutral message model and the Client
// capability interface implemented by every mail backend.
//
// Backends classify their failures into three groups so callers can react
// without knowing the provider:
//
//   - *ProviderError: the provider understood and rejected the request
//     (invalid recipient, quota exceeded).
//   - ErrCredentialsExpired: the access or refresh token is no longer
//     accepted; re-authentication fixes it.
//   - ErrTransport: the request did not complete (network, 5xx).
package mail
