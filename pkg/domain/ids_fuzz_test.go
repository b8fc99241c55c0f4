package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseJobID checks that parsing never panics on arbitrary input and that
// anything accepted round-trips through String.
func FuzzParseJobID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE migration_jobs;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseJobID(input)
		if err != nil {
			return
		}

		roundTrip, err2 := ParseJobID(id.String())
		if err2 != nil {
			t.Errorf("accepted ID failed round-trip: %v", err2)
		}
		if roundTrip != id {
			t.Error("round-trip changed ID value")
		}

		if !utf8.ValidString(input) {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs ensures the UUID-backed ID types accept and reject in
// lockstep.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errJob := ParseJobID(input)
		_, errBatch := ParseBatchID(input)
		_, errChallenge := ParseChallengeID(input)

		if (errJob == nil) != (errBatch == nil) || (errJob == nil) != (errChallenge == nil) {
			t.Error("inconsistent parsing across ID types")
		}
	})
}
