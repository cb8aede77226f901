// Package uuidfmt renders the 32-byte PV/VG/LV identifiers the on-disk
// format uses (spec §3, §6): a hyphen-grouped 32-character string, generated
// from a standard UUID but displayed without the RFC-4122 dashes' positions
// — LVM groups in 6-4-4-4-4-4-6, not RFC 4122's 8-4-4-4-12.
package uuidfmt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is an on-disk LVM identifier: 32 hex-ish characters derived from a
// UUIDv4, displayed hyphen-grouped the way `pvs`/`vgs` report it.
type ID [32]byte

// New mints a fresh random identifier.
func New() ID {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	var id ID
	copy(id[:], raw)
	return id
}

// Parse accepts either the hyphen-grouped display form or the bare 32-char
// form and returns the underlying identifier.
func Parse(s string) (ID, error) {
	raw := strings.ReplaceAll(s, "-", "")
	if len(raw) != 32 {
		return ID{}, fmt.Errorf("uuidfmt: %q is not a 32-character LVM identifier", s)
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// String renders the identifier in LVM's 6-4-4-4-4-4-6 grouping.
func (id ID) String() string {
	s := string(id[:])
	groups := []int{6, 4, 4, 4, 4, 4, 6}
	var b strings.Builder
	pos := 0
	for i, g := range groups {
		b.WriteString(s[pos : pos+g])
		pos += g
		if i != len(groups)-1 {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// IsZero reports whether id is the zero value (never assigned).
func (id ID) IsZero() bool {
	return id == ID{}
}
