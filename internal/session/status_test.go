package session

import (
	"context"
	"testing"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		phase     Phase
		hasClient bool
		want      Status
	}{
		{PhaseReady, true, StatusConnected},
		{PhaseAwaitingChallenge, true, StatusQRCodeNeeded},
		{PhaseInitializing, true, StatusConnecting},
		{PhaseDisconnected, true, StatusConnecting},
		{PhaseAuthFailed, true, StatusConnecting},
		{PhaseInitializing, false, StatusDisconnected},
		{PhaseDisconnected, false, StatusDisconnected},
		{PhaseAuthFailed, false, StatusDisconnected},
	}
	for _, tc := range cases {
		if got := deriveStatus(tc.phase, tc.hasClient); got != tc.want {
			t.Fatalf("deriveStatus(%s, %t) = %s, want %s", tc.phase, tc.hasClient, got, tc.want)
		}
	}
}

// The reported status must never claim connected while a challenge is pending,
// nor demand a QR scan while the session is ready.
func TestStatusMutualExclusion(t *testing.T) {
	factory := &fakeFactory{}
	controller, _ := newTestController(t, factory)
	if err := controller.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	hooks := factory.lastHooks()
	hooks.Challenge("2@abc123")
	if got := controller.Status(); got == StatusConnected {
		t.Fatalf("status must not be connected while a challenge is pending")
	}

	hooks.Ready()
	if got := controller.Status(); got != StatusConnected {
		t.Fatalf("expected connected after ready, got %s", got)
	}
	if got := controller.Status(); got == StatusQRCodeNeeded {
		t.Fatalf("status must not demand a qr scan while ready")
	}
}
