package domain

import "strings"

// Role is the canonical role enumeration. Backend role strings are translated
// here once, at the boundary, instead of per-screen string comparisons.
type Role string

const (
	RoleUser     Role = "USER"
	RoleAdmin    Role = "ADMIN"
	RoleReviewer Role = "REVIEWER"
	RoleTrainee  Role = "TRAINEE"
)

// CanonicalRole maps a raw backend role string to its canonical Role.
// Unknown strings fall back to USER.
func CanonicalRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin", "administrator":
		return RoleAdmin
	case "reviewer", "approver":
		return RoleReviewer
	case "trainer", "trainee":
		return RoleTrainee
	case "user", "member", "":
		return RoleUser
	default:
		return RoleUser
	}
}
