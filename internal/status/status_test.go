package status

import (
	"reflect"
	"testing"
)

func TestDraftOverridesEverything(t *testing.T) {
	statuses := []string{Sent, OfferReceived, InReview, ViewedByCreator, ViewedByMarketer, Countered, Rejected, Accepted, Cancelled, "Frobnicated", ""}
	roles := []Role{RoleMarketer, RoleCreator, Role("auditor"), Role("")}
	for _, s := range statuses {
		for _, r := range roles {
			if got := Label(s, r, true); got != "Draft" {
				t.Fatalf("Label(%q, %q, draft) = %q, want Draft", s, r, got)
			}
		}
	}
}

func TestRoleFraming(t *testing.T) {
	cases := []struct {
		status string
		role   Role
		want   string
	}{
		{Sent, RoleMarketer, "Offer Sent"},
		{OfferReceived, RoleMarketer, "Offer Sent"},
		{Sent, RoleCreator, "Offer Received"},
		{ViewedByMarketer, RoleMarketer, "Offer in Review"},
		{InReview, RoleCreator, "Viewed by Marketer"},
		{ViewedByCreator, RoleCreator, "Offer in Review"},
		{Countered, RoleMarketer, "Counter Offered"},
		{Countered, RoleCreator, "Counter Offered"},
		{Rejected, RoleMarketer, "Rejected by Creator"},
		{Rejected, RoleCreator, "Rejected"},
		{Accepted, RoleMarketer, "Accepted by Creator"},
		{Accepted, RoleCreator, "Accepted"},
	}
	for _, tc := range cases {
		if got := Label(tc.status, tc.role, false); got != tc.want {
			t.Errorf("Label(%q, %q) = %q, want %q", tc.status, tc.role, got, tc.want)
		}
	}
}

func TestUnknownStatusIdentityFallback(t *testing.T) {
	if got := Label("Frobnicated", RoleMarketer, false); got != "Frobnicated" {
		t.Fatalf("marketer fallback = %q", got)
	}
	if got := Label("Frobnicated", RoleCreator, false); got != "Frobnicated" {
		t.Fatalf("creator fallback = %q", got)
	}
}

func TestUnknownRoleIdentityFallback(t *testing.T) {
	if got := Label(Accepted, Role("admin"), false); got != Accepted {
		t.Fatalf("unknown role should return raw status, got %q", got)
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("Marketer"); !ok || r != RoleMarketer {
		t.Fatalf("ParseRole(Marketer) = %q, %v", r, ok)
	}
	if r, ok := ParseRole("Creator"); !ok || r != RoleCreator {
		t.Fatalf("ParseRole(Creator) = %q, %v", r, ok)
	}
	if _, ok := ParseRole("creator"); ok {
		t.Fatal("ParseRole is case sensitive")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{Accepted, Rejected, Cancelled} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false", s)
		}
	}
	for _, s := range []string{Sent, InReview, Countered, ViewedByCreator, "Frobnicated"} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true", s)
		}
	}
}

func TestActionRowCounteredMarketer(t *testing.T) {
	got := AvailableActions(Countered, RoleMarketer, true, true)
	want := []Action{ActionAccept, ActionCounter, ActionReject}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("countered marketer actions = %v, want %v", got, want)
	}
}

func TestActionRowOwnerSentMarketer(t *testing.T) {
	got := AvailableActions(Sent, RoleMarketer, true, false)
	want := []Action{ActionDelete}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("owner sent actions = %v, want %v", got, want)
	}
	if got := AvailableActions(Sent, RoleMarketer, false, false); got != nil {
		t.Fatalf("non-owner sent actions = %v, want none", got)
	}
}

func TestActionRowTerminal(t *testing.T) {
	for _, s := range []string{Accepted, Rejected, Cancelled} {
		for _, r := range []Role{RoleMarketer, RoleCreator} {
			if got := AvailableActions(s, r, true, true); got != nil {
				t.Errorf("terminal %q/%q actions = %v, want none", s, r, got)
			}
		}
	}
}

func TestActionRowCreator(t *testing.T) {
	got := AvailableActions(Sent, RoleCreator, false, false)
	want := []Action{ActionAccept, ActionCounter, ActionReject}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("creator actions = %v, want %v", got, want)
	}
}
