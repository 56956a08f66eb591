// Package auth implements the interchangeable flows that mint a fresh OAuth2
// token for an account.
//
// Every flow implements Strategy: Initiate prepares whatever the user has to
// act on (an authorization URL, a device user code) and Complete finishes the
// flow, blocking where the flow requires it:
//
//   - Callback runs a short-lived local HTTP listener that receives the
//     redirect; with a browser opener it is the interactive browser flow.
//   - Manual uses the out-of-band redirect; the user pastes the code.
//   - Device requests a device code and polls the token endpoint.
//   - Import accepts a token minted elsewhere.
//
// Failures are *Error values naming the strategy and the stage that failed.
package auth
