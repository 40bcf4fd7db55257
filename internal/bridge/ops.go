package bridge

import (
	"context"
	"fmt"

	"github.com/mattjoyce/tether/internal/protocol"
)

// ScanResult is the outcome of an NFC scan.
type ScanResult struct {
	ID string `json:"id"`
}

// LoginResult is the outcome of a login.
type LoginResult struct {
	Token string `json:"token"`
}

// ScanNFC asks the worker to read a tag.
func (b *Bridge) ScanNFC(ctx context.Context) (ScanResult, error) {
	resp, err := b.call(ctx, protocol.KindScanNFC, nil, "Failed to scan NFC")
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{ID: resp.String("id")}, nil
}

// Login forwards credentials to the worker.
func (b *Bridge) Login(ctx context.Context, user, pass string) (LoginResult, error) {
	payload := map[string]any{"user": user, "pass": pass}
	resp, err := b.call(ctx, protocol.KindLogin, payload, "Login failed")
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: resp.String("token")}, nil
}

// call is Send with ok:false folded into the error.
func (b *Bridge) call(ctx context.Context, kind protocol.Kind, payload map[string]any, fallback string) (*protocol.Response, error) {
	resp, err := b.Send(ctx, kind, payload, 0)
	if err != nil {
		return nil, err
	}
	if werr := resp.Err(); werr != nil {
		if resp.Error == "" {
			return nil, fmt.Errorf("%s: %w", fallback, werr)
		}
		return nil, werr
	}
	return resp, nil
}
