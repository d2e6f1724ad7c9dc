package dispatch

import "testing"

func TestTransportAddress(t *testing.T) {
	cases := []struct {
		recipient string
		want      string
	}{
		{"5511999999999", "5511999999999@s.whatsapp.net"},
		{"5511999999999@c.us", "5511999999999@s.whatsapp.net"},
		{"5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{" 5511999999999 ", "5511999999999@s.whatsapp.net"},
		{"5511999999999@", "5511999999999@s.whatsapp.net"},
	}
	for _, tc := range cases {
		if got := TransportAddress(tc.recipient); got != tc.want {
			t.Fatalf("TransportAddress(%q) = %q, want %q", tc.recipient, got, tc.want)
		}
	}
}
