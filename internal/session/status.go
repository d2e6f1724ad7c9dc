package session

type Status string

const (
	StatusConnected    Status = "connected"
	StatusQRCodeNeeded Status = "qr_code_needed"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// Status derives the externally visible connectivity status from the current
// phase and client handle.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deriveStatus(c.phase, c.client != nil)
}

func deriveStatus(phase Phase, hasClient bool) Status {
	switch {
	case phase == PhaseReady:
		return StatusConnected
	case phase == PhaseAwaitingChallenge:
		return StatusQRCodeNeeded
	case hasClient:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}
