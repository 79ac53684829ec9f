package store

import "strings"

// MaxStationNameLen bounds station identifiers.
const MaxStationNameLen = 64

// ValidStationName reports whether s can identify a station. Names are used
// as path segments of the status surface and as metric labels, so they are
// limited to ASCII letters, digits, '.', '_', '-' and inner spaces
// ("Station 1"). A name made only of dots is rejected.
func ValidStationName(s string) bool {
	if s == "" || len(s) > MaxStationNameLen || s != strings.TrimSpace(s) {
		return false
	}
	if strings.Trim(s, ".") == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch b := s[i]; {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		case b == '.', b == '_', b == '-', b == ' ':
		default:
			return false
		}
	}
	return true
}
