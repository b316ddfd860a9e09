package services_test

import (
	"slices"
	"testing"

	"clipstitch/internal/services"
)

func TestParsePermissionsTrimsAndDedupes(t *testing.T) {
	got := services.ParsePermissions(" assets:review, ,uploads:admin,assets:review")
	if !slices.Equal(got, []string{"assets:review", "uploads:admin"}) {
		t.Fatalf("unexpected permissions %v", got)
	}
}

func TestPrincipalOwns(t *testing.T) {
	alice := services.Principal{ID: "alice"}
	if !alice.Owns("alice") || alice.Owns("bob") {
		t.Fatal("owner check failed")
	}
	admin := services.Principal{ID: "ops", Permissions: []string{services.PermUploadsAdmin}}
	if !admin.Owns("bob") {
		t.Fatal("admin should act on any session")
	}
	if (services.Principal{}).Owns("") {
		t.Fatal("anonymous principal must own nothing")
	}
}
