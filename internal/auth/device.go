package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	deviceGrantType       = "urn:ietf:params:oauth:grant-type:device_code"
	defaultDeviceInterval = 5 * time.Second
	slowDownIncrement     = 5 * time.Second
)

// Device implements the device authorization grant.
type Device struct {
	Config *oauth2.Config
	// HTTPClient is used for the device code request and polling.
	HTTPClient *http.Client
	// Sleep waits between polls; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// Name returns "device".
func (d *Device) Name() string { return NameDevice }

// Initiate requests a device code and user code.
func (d *Device) Initiate(ctx context.Context) (*Pending, error) {
	if d.Config.Endpoint.DeviceAuthURL == "" {
		return nil, fail(NameDevice, StageDeviceCode, errors.New("provider has no device authorization endpoint"))
	}
	da, err := d.Config.DeviceAuth(withHTTPClient(ctx, d.HTTPClient))
	if err != nil {
		return nil, fail(NameDevice, StageDeviceCode, err)
	}

	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = defaultDeviceInterval
	}
	verification := da.VerificationURIComplete
	if verification == "" {
		verification = da.VerificationURI
	}
	return &Pending{
		Strategy:        NameDevice,
		UserCode:        da.UserCode,
		VerificationURL: verification,
		ExpiresAt:       da.Expiry,
		Interval:        interval,
		Instructions:    fmt.Sprintf("Visit %s and enter the code %s", da.VerificationURI, da.UserCode),
		deviceCode:      da.DeviceCode,
	}, nil
}

// Complete polls the token endpoint until the user approves, denies, or
// the device code expires. A slow_down answer adds five seconds to the
// interval.
func (d *Device) Complete(ctx context.Context, p *Pending, _ string) (*oauth2.Token, error) {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	interval := p.Interval
	if interval <= 0 {
		interval = defaultDeviceInterval
	}
	for {
		if !p.ExpiresAt.IsZero() && now().After(p.ExpiresAt) {
			return nil, fail(NameDevice, StagePolling, ErrExpired)
		}

		tok, code, err := d.poll(ctx, p.deviceCode)
		if err != nil {
			return nil, fail(NameDevice, StagePolling, err)
		}
		switch code {
		case "":
			return tok, nil
		case "authorization_pending":
		case "slow_down":
			interval += slowDownIncrement
		case "expired_token":
			return nil, fail(NameDevice, StagePolling, ErrExpired)
		case "bad_verification_code":
			return nil, fail(NameDevice, StagePolling, fmt.Errorf("%w: device code rejected by the provider", ErrExpired))
		case "access_denied", "authorization_declined":
			// Microsoft identity platform reports a refusal as authorization_declined.
			return nil, fail(NameDevice, StagePolling, ErrDenied)
		default:
			return nil, fail(NameDevice, StagePolling, fmt.Errorf("token endpoint returned %q", code))
		}

		if err := sleep(ctx, interval); err != nil {
			return nil, fail(NameDevice, StagePolling, err)
		}
	}
}

type deviceTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// poll performs one token request. It returns the OAuth error code when the
// endpoint answered with one.
func (d *Device) poll(ctx context.Context, deviceCode string) (*oauth2.Token, string, error) {
	form := url.Values{
		"client_id":   {d.Config.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}
	if d.Config.ClientSecret != "" {
		form.Set("client_secret", d.Config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", err
	}
	var tr deviceTokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, "", fmt.Errorf("unexpected token endpoint response (%d): %w", resp.StatusCode, err)
	}
	if tr.Error != "" {
		return nil, tr.Error, nil
	}
	if resp.StatusCode >= 400 || tr.AccessToken == "" {
		return nil, "", fmt.Errorf("unexpected token endpoint response (%d)", resp.StatusCode)
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		now := time.Now
		if d.Now != nil {
			now = d.Now
		}
		tok.Expiry = now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]interface{}{"scope": tr.Scope}), "", nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
