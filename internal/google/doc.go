// Package google provides the Gmail provider plug-in: client configuration
// parsing, OAuth2 scopes and construction of Gmail clients.
//
// Client configuration files downloaded from the Google Cloud console come in
// two shapes ("installed" for desktop apps, "web" for web apps); a flat
// {"client_id": ..., "client_secret": ...} document is accepted as well.
package google
