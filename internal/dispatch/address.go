package dispatch

import "strings"

const (
	defaultServer = "s.whatsapp.net"
	legacyServer  = "c.us"
)

// TransportAddress normalizes a submitted recipient into the transport's
// addressing form. Bare phone numbers get the default server suffix; the
// legacy "@c.us" suffix maps to the same canonical address.
func TransportAddress(recipient string) string {
	user, server, found := strings.Cut(strings.TrimSpace(recipient), "@")
	if !found || server == "" || server == legacyServer {
		server = defaultServer
	}
	return user + "@" + server
}
