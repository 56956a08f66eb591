package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/store"
)

// Import accepts a token minted elsewhere, for hosts where no interactive
// flow is possible. Accepted formats are the store's token record, plain
// oauth2 token JSON and Google "authorized user" credentials.
type Import struct {
	// Source is a file path or an inline JSON document; Complete's input
	// takes precedence when non-empty.
	Source string
}

// Name returns "import".
func (i *Import) Name() string { return NameImport }

// Initiate describes what Complete expects.
func (i *Import) Initiate(context.Context) (*Pending, error) {
	return &Pending{
		Strategy:     NameImport,
		Instructions: "Provide a token file (or JSON) obtained on another machine.",
	}, nil
}

// Complete loads and parses the token.
func (i *Import) Complete(_ context.Context, _ *Pending, input string) (*oauth2.Token, error) {
	src := strings.TrimSpace(input)
	if src == "" {
		src = strings.TrimSpace(i.Source)
	}
	if src == "" {
		return nil, fail(NameImport, StageImport, errors.New("no token source given"))
	}

	data := []byte(src)
	if !strings.HasPrefix(src, "{") {
		var err error
		if data, err = os.ReadFile(src); err != nil {
			return nil, fail(NameImport, StageImport, err)
		}
	}

	tok, err := ParseToken(data)
	if err != nil {
		return nil, fail(NameImport, StageImport, err)
	}
	return tok, nil
}

// authorizedUser is the Google credentials JSON written by client libraries.
type authorizedUser struct {
	Token        string    `json:"token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
	Scope        string    `json:"scope"`
}

// ParseToken decodes an imported token document.
func ParseToken(data []byte) (*oauth2.Token, error) {
	if rec, err := store.DecodeToken(data); err == nil {
		tok := rec.OAuth2()
		return tok.WithExtra(map[string]interface{}{"scope": strings.Join(rec.Scopes, " ")}), nil
	}

	var au authorizedUser
	if err := json.Unmarshal(data, &au); err != nil {
		return nil, fmt.Errorf("token is not valid JSON: %w", err)
	}
	access := au.AccessToken
	if access == "" {
		access = au.Token
	}
	if access == "" && au.RefreshToken == "" {
		return nil, errors.New("token carries neither access nor refresh token")
	}

	scope := au.Scope
	if scope == "" {
		scope = strings.Join(au.Scopes, " ")
	}
	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: au.RefreshToken,
		TokenType:    au.TokenType,
		Expiry:       au.Expiry,
	}
	return tok.WithExtra(map[string]interface{}{"scope": scope}), nil
}
