package xrayadmin

import "testing"

func TestParseStatEmail(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"uplink", "user>>>alice>>>traffic>>>uplink", "alice"},
		{"downlink", "user>>>bob>>>traffic>>>downlink", "bob"},
		{"no prefix", "inbound>>>alice>>>traffic>>>uplink", ""},
		{"no suffix", "user>>>alice", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseStatEmail(tc.in); got != tc.want {
				t.Errorf("parseStatEmail(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
