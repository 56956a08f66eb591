package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/account"
)

// TokenVersion is the current token record format version.
const TokenVersion = 1

// Token is the persisted credential record of one account.
type Token struct {
	Version      int          `json:"version"`
	Provider     account.Kind `json:"provider"`
	Account      string       `json:"account"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	Expiry       time.Time    `json:"expiry,omitzero"`
	Scopes       []string     `json:"scopes,omitempty"`
	SavedAt      time.Time    `json:"saved_at"`
}

// NewToken builds a record from an oauth2 token. Granted scopes are taken from
// the token response when the provider reports them, otherwise fallback is
// recorded.
func NewToken(d account.Descriptor, tok *oauth2.Token, fallback []string) *Token {
	scopes := GrantedScopes(tok)
	if len(scopes) == 0 {
		scopes = append([]string(nil), fallback...)
	}
	return &Token{
		Version:      TokenVersion,
		Provider:     d.Kind,
		Account:      d.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       scopes,
	}
}

// GrantedScopes returns the space separated "scope" field of a token
// response, if any.
func GrantedScopes(tok *oauth2.Token) []string {
	if tok == nil {
		return nil
	}
	raw, _ := tok.Extra("scope").(string)
	return strings.Fields(raw)
}

// OAuth2 converts the record to an oauth2 token.
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Refreshable reports whether the record carries a refresh token.
func (t *Token) Refreshable() bool {
	return t.RefreshToken != ""
}

// Encode serialises the record.
func (t *Token) Encode() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// DecodeToken parses a token record and rejects unknown versions.
func DecodeToken(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode token record: %w", err)
	}
	if t.Version != TokenVersion {
		return nil, fmt.Errorf("unsupported token record version %d", t.Version)
	}
	if t.AccessToken == "" && t.RefreshToken == "" {
		return nil, errors.New("token record carries neither access nor refresh token")
	}
	return &t, nil
}
