// Package microsoft provides the Outlook provider plug-in: Azure AD client
// configuration, Graph scopes and construction of Outlook clients.
//
// An Outlook client configuration is a JSON document
//
//	{"client_id": "...", "client_secret": "...", "tenant": "common"}
//
// where client_secret is optional for public clients and tenant defaults to
// the configured tenant ("common" unless overridden).
package microsoft
