package idp

import (
	"fmt"
	"strings"
)

// GUID is a 128-bit identity, wire-compatible with the classic
// Data1-Data2-Data3-Data4 GUID layout. On the wire each of Data1/Data2/Data3
// is written big-endian (like every other multi-byte field in this
// protocol) and Data4 is written as eight raw bytes.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// String renders g in canonical "XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX" form.
func (g GUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		g.Data1, g.Data2, g.Data3,
		g.Data4[0], g.Data4[1], g.Data4[2], g.Data4[3], g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

// ParseGUID parses the canonical GUID text form.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "{}")
	parts := strings.Split(s, "-")
	if len(parts) != 5 || len(parts[0]) != 8 || len(parts[1]) != 4 || len(parts[2]) != 4 || len(parts[3]) != 4 || len(parts[4]) != 12 {
		return g, fmt.Errorf("idp: invalid guid %q", s)
	}
	var d1 uint32
	var d2, d3 uint16
	if _, err := fmt.Sscanf(parts[0], "%08x", &d1); err != nil {
		return g, fmt.Errorf("idp: invalid guid %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%04x", &d2); err != nil {
		return g, fmt.Errorf("idp: invalid guid %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[2], "%04x", &d3); err != nil {
		return g, fmt.Errorf("idp: invalid guid %q: %w", s, err)
	}
	tail := parts[3] + parts[4]
	var d4 [8]byte
	for i := range d4 {
		var b uint
		if _, err := fmt.Sscanf(tail[i*2:i*2+2], "%02x", &b); err != nil {
			return g, fmt.Errorf("idp: invalid guid %q: %w", s, err)
		}
		d4[i] = byte(b)
	}
	g.Data1, g.Data2, g.Data3, g.Data4 = d1, d2, d3, d4
	return g, nil
}

// MustParseGUID is ParseGUID, panicking on error. It is intended for
// initializing package-level constants from literals known to be valid.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// IsZero reports whether g is the zero-value GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// Well-known node identities, frozen by the protocol.
var (
	MasterGuid = MustParseGUID("554C0A67-F228-47B5-8155-8C5436D533DA")
	RouterGuid = MustParseGUID("A1EE332D-5C7C-42FE-9519-54BDAC40CF21")
)
