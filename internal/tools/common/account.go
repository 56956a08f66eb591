package common

import (
	"strings"
)

// AccountFromArgs returns the "account" argument of a tool call, or "" when
// it is absent or not a string.
func AccountFromArgs(args map[string]any) string {
	if v, ok := args["account"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Directory lists the ready accounts.
type Directory interface {
	Accounts() []string
}

// SelectAccount returns the requested account. Without one, the only ready
// account is used; with several the caller has to choose.
func SelectAccount(args map[string]any, dir Directory) (string, bool) {
	if id := AccountFromArgs(args); id != "" {
		return id, true
	}
	if ids := dir.Accounts(); len(ids) == 1 {
		return ids[0], true
	}
	return "", false
}

// SplitList splits a comma separated list, dropping empty elements.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
