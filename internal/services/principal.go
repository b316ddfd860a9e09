package services

import (
	"slices"
	"strings"
)

// Permissions understood by the core.
const (
	PermUploadsAdmin = "uploads:admin"
	PermAssetsReview = "assets:review"
)

// Principal is a caller identity validated by the external auth layer.
type Principal struct {
	ID          string
	Permissions []string
}

// ParsePermissions splits a comma separated permission list.
func ParsePermissions(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}

// Has reports whether the principal holds permission.
func (p Principal) Has(permission string) bool {
	return slices.Contains(p.Permissions, permission)
}

// Owns reports whether the principal may act on a resource owned by owner.
func (p Principal) Owns(owner string) bool {
	return p.ID != "" && (p.ID == owner || p.Has(PermUploadsAdmin))
}
