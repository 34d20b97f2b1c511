package idp

import "testing"

func TestGUIDParseRoundTrip(t *testing.T) {
	s := RouterGuid.String()
	got, err := ParseGUID(s)
	if err != nil {
		t.Fatalf("ParseGUID(%q): %v", s, err)
	}
	if got != RouterGuid {
		t.Errorf("ParseGUID(%q) = %v, want %v", s, got, RouterGuid)
	}
}

func TestGUIDParseAcceptsBraces(t *testing.T) {
	s := "{" + MasterGuid.String() + "}"
	got, err := ParseGUID(s)
	if err != nil {
		t.Fatalf("ParseGUID(%q): %v", s, err)
	}
	if got != MasterGuid {
		t.Errorf("got %v, want %v", got, MasterGuid)
	}
}

func TestGUIDParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "not-a-guid", "554C0A67-F228-47B5-8155"} {
		if _, err := ParseGUID(s); err == nil {
			t.Errorf("ParseGUID(%q) = nil error, want error", s)
		}
	}
}

func TestGUIDIsZero(t *testing.T) {
	var z GUID
	if !z.IsZero() {
		t.Error("expected zero-value GUID to report IsZero")
	}
	if RouterGuid.IsZero() {
		t.Error("RouterGuid should not be zero")
	}
}
