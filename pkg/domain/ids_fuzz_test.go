//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseAddress checks that parsing never panics and accepted addresses
// round-trip through their checksummed form.
func FuzzParseAddress(f *testing.F) {
	f.Add("")
	f.Add("0x52908400098527886E0F7030069857D2E4169EE7")
	f.Add("0x52908400098527886e0f7030069857d2e4169ee7")
	f.Add("0x0000000000000000000000000000000000000000")
	f.Add("'; DROP TABLE users;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseAddress(input)
		if err != nil {
			return
		}
		roundTrip, err := ParseAddress(addr.Hex())
		if err != nil {
			t.Errorf("checksummed address failed round-trip: %v", err)
		}
		if roundTrip != addr {
			t.Error("round-trip changed address")
		}
		if !utf8.ValidString(input) {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseUserID tests that parsing never panics on arbitrary input.
func FuzzParseUserID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUserID(input)
		if err == nil {
			roundTrip, err2 := ParseUserID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
		}
	})
}
