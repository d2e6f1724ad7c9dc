package session

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func TestQRCodeRequiresChallenge(t *testing.T) {
	factory := &fakeFactory{}
	controller, _ := newTestController(t, factory)
	if err := controller.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, _, err := controller.QRCode(); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("expected ErrNoChallenge, got %v", err)
	}
}

func TestQRCodeIsMemoizedPerChallenge(t *testing.T) {
	factory := &fakeFactory{}
	controller, _ := newTestController(t, factory)
	if err := controller.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	hooks := factory.lastHooks()
	hooks.Challenge("2@first-challenge")

	first, raw, err := controller.QRCode()
	if err != nil {
		t.Fatalf("first encode: %v", err)
	}
	if raw != "2@first-challenge" {
		t.Fatalf("expected raw challenge back, got %q", raw)
	}
	if _, err := base64.StdEncoding.DecodeString(first); err != nil {
		t.Fatalf("expected base64 payload: %v", err)
	}

	second, _, err := controller.QRCode()
	if err != nil {
		t.Fatalf("second encode: %v", err)
	}
	if second != first {
		t.Fatalf("expected cache hit to return the identical encoding")
	}

	// A fresh challenge invalidates the cache.
	hooks.Challenge("2@second-challenge")
	third, raw, err := controller.QRCode()
	if err != nil {
		t.Fatalf("encode after new challenge: %v", err)
	}
	if raw != "2@second-challenge" {
		t.Fatalf("expected new raw challenge, got %q", raw)
	}
	if third == first {
		t.Fatalf("expected a different encoding for a different challenge")
	}
}
