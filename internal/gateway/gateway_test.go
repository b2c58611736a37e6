package gateway

import "testing"

func TestRefreshRegistry_EmptySnapshotFails(t *testing.T) {
	r := NewRegistry()
	if err := r.RefreshRegistry(nil); err == nil {
		t.Fatal("expected error for empty snapshot")
	}
}

func TestRefreshRegistry_RetainsPriorOnFailure(t *testing.T) {
	r := NewRegistry()
	good := []*Gateway{{Address: "a", FQDN: "a.example", Status: StatusJoined}}
	if err := r.RefreshRegistry(good); err != nil {
		t.Fatalf("RefreshRegistry: %v", err)
	}
	if err := r.RefreshRegistry([]*Gateway{{Address: ""}}); err == nil {
		t.Fatal("expected error for malformed snapshot")
	}
	if len(r.Eligible()) != 1 {
		t.Fatalf("expected prior snapshot retained, got %d eligible", len(r.Eligible()))
	}
}

func TestEligible_ExcludesNonJoinedAndBlacklisted(t *testing.T) {
	r := NewRegistry()
	gws := []*Gateway{
		{Address: "joined", FQDN: "a.example", Status: StatusJoined},
		{Address: "leaving", FQDN: "b.example", Status: StatusLeaving},
		{Address: "blacklisted", FQDN: "c.example", Status: StatusJoined},
	}
	if err := r.RefreshRegistry(gws); err != nil {
		t.Fatalf("RefreshRegistry: %v", err)
	}
	r.SetBlacklist([]string{"blacklisted"})

	eligible := r.Eligible()
	if len(eligible) != 1 || eligible[0].Address != "joined" {
		t.Fatalf("Eligible() = %v, want only [joined]", eligible)
	}
}

func TestToggleBlacklist(t *testing.T) {
	r := NewRegistry()
	r.ToggleBlacklist("x")
	if !r.IsBlacklisted("x") {
		t.Fatal("expected x blacklisted after toggle")
	}
	r.ToggleBlacklist("x")
	if r.IsBlacklisted("x") {
		t.Fatal("expected x not blacklisted after second toggle")
	}
}

func TestPenalizeExcludesFromEligibleButNotAll(t *testing.T) {
	r := NewRegistry()
	gws := []*Gateway{{Address: "a", FQDN: "a.example", Status: StatusJoined}}
	if err := r.RefreshRegistry(gws); err != nil {
		t.Fatalf("RefreshRegistry: %v", err)
	}
	gws[0].Penalize()

	if len(r.Eligible()) != 0 {
		t.Fatalf("expected penalized gateway excluded from Eligible()")
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected penalized gateway still present in All()")
	}

	gws[0].Pardon()
	if len(r.Eligible()) != 1 {
		t.Fatalf("expected pardoned gateway eligible again")
	}
}

func TestTotalStake(t *testing.T) {
	g := &Gateway{OperatorStake: 100, TotalDelegatedStake: 250}
	if got := g.TotalStake(); got != 350 {
		t.Errorf("TotalStake() = %d, want 350", got)
	}
}
