package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "owner tag", role: RoleOwner, action: ActionTag, allow: true},
		{name: "owner edit", role: RoleOwner, action: ActionEdit, allow: true},
		{name: "participant read", role: RoleParticipant, action: ActionRead, allow: true},
		{name: "participant edit", role: RoleParticipant, action: ActionEdit, allow: true},
		{name: "participant snapshot", role: RoleParticipant, action: ActionSnapshot, allow: true},
		{name: "participant tag", role: RoleParticipant, action: ActionTag, allow: false},
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: false},
		{name: "unknown edit", role: Role("admin"), action: ActionEdit, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name        string
		participant string
		member      bool
		want        Role
	}{
		{name: "owner", participant: "p-owner", member: true, want: RoleOwner},
		{name: "owner not listed", participant: "p-owner", member: false, want: RoleOwner},
		{name: "joined", participant: "p-2", member: true, want: RoleParticipant},
		{name: "stranger", participant: "p-3", member: false, want: RoleGuest},
		{name: "anonymous", participant: "", member: true, want: RoleGuest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.participant, "p-owner", tc.member); got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.participant, got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("participant") != RoleParticipant {
		t.Fatal("participant not recognised")
	}
	if Normalize("editor") != RoleGuest {
		t.Fatal("unknown roles should normalise to guest")
	}
}
