package google

import (
	gmail "google.golang.org/api/gmail/v1"
)

// FullAccessScope grants every Gmail capability.
const FullAccessScope = gmail.MailGoogleComScope

// Scopes are requested when authorizing a Gmail account.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
	gmail.GmailLabelsScope,
}

// requiredScopes lists what read, send, mark-as-read and label changes
// need, each with the broader scopes that imply it.
var requiredScopes = map[string][]string{
	gmail.GmailReadonlyScope: {gmail.GmailModifyScope, FullAccessScope},
	gmail.GmailSendScope:     {gmail.GmailModifyScope, FullAccessScope},
	gmail.GmailModifyScope:   {FullAccessScope},
	gmail.GmailLabelsScope:   {gmail.GmailModifyScope, FullAccessScope},
}

// MissingScopes returns the required scopes not covered by granted, in a
// stable order.
func MissingScopes(granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}

	var missing []string
	for _, scope := range Scopes {
		if have[scope] {
			continue
		}
		covered := false
		for _, alt := range requiredScopes[scope] {
			if have[alt] {
				covered = true
				break
			}
		}
		if !covered {
			missing = append(missing, scope)
		}
	}
	return missing
}
