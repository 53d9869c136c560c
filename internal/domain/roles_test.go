package domain

import "testing"

func TestCanonicalRole(t *testing.T) {
	cases := map[string]Role{
		"admin":         RoleAdmin,
		"Administrator": RoleAdmin,
		"reviewer":      RoleReviewer,
		"APPROVER":      RoleReviewer,
		"trainer":       RoleTrainee,
		"trainee":       RoleTrainee,
		"user":          RoleUser,
		"member":        RoleUser,
		"":              RoleUser,
		"  admin  ":     RoleAdmin,
		"something":     RoleUser,
	}
	for raw, want := range cases {
		if got := CanonicalRole(raw); got != want {
			t.Errorf("CanonicalRole(%q) = %s, want %s", raw, got, want)
		}
	}
}
