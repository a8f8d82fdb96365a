package domain

import "strings"

// Profile is the borrower record used to stamp recipient fields onto ledger entries.
type Profile struct {
	BorrowerID string
	MemberID   string
	FirstName  string
	LastName   string
	Purok      string
	Barangay   string
}

// DisplayName joins first and last name, or returns nil when both are blank.
func (p Profile) DisplayName() *string {
	parts := make([]string, 0, 2)
	for _, s := range []string{p.FirstName, p.LastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	name := strings.Join(parts, " ")
	return &name
}

func (p Profile) Locality() *string {
	if strings.TrimSpace(p.Purok) == "" {
		return nil
	}
	purok := p.Purok
	return &purok
}
