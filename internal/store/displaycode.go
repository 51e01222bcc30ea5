package store

import (
	"fmt"
	"strings"
	"unicode"
)

const displayCodePad = 3

// DoctorDisplayCode renders the named-registration code from the
// doctor's name and the per-doctor daily sequence, e.g. "AS-007".
func DoctorDisplayCode(doctorName string, sequence int) string {
	return fmt.Sprintf("%s-%0*d", DoctorInitials(doctorName), displayCodePad, sequence)
}

// ClinicDisplayCode renders the anonymous-kiosk code from the clinic's
// short code and the clinic-wide daily sequence, e.g. "UMM-005".
func ClinicDisplayCode(clinicCode string, sequence int64) string {
	return fmt.Sprintf("%s-%0*d", strings.ToUpper(strings.TrimSpace(clinicCode)), displayCodePad, sequence)
}

// DoctorInitials derives a two-letter prefix from a doctor's display
// name: the leading "Dr." title and any commas are dropped, then the
// first letters of the first two remaining tokens are taken. A single
// token contributes its first two letters; an empty name falls back to
// "DR".
func DoctorInitials(name string) string {
	cleaned := strings.ReplaceAll(name, ",", " ")
	tokens := strings.Fields(cleaned)
	if len(tokens) > 0 {
		first := strings.ToLower(tokens[0])
		if first == "dr" || first == "dr." {
			tokens = tokens[1:]
		}
	}
	if len(tokens) == 0 {
		return "DR"
	}
	if len(tokens) == 1 {
		runes := []rune(tokens[0])
		if len(runes) == 1 {
			return strings.ToUpper(string(runes[0]))
		}
		return strings.ToUpper(string(runes[:2]))
	}
	a := []rune(tokens[0])
	b := []rune(tokens[1])
	return string(unicode.ToUpper(a[0])) + string(unicode.ToUpper(b[0]))
}
