// Package rbac decides what a participant may do inside a project.
package rbac

type Role string
type Action string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
	RoleGuest       Role = "guest"
)

const (
	// ActionRead covers loading the project, its insights and the live feed.
	ActionRead Action = "read"
	// ActionEdit covers every shared-field write.
	ActionEdit Action = "edit"
	// ActionSnapshot records an archive snapshot.
	ActionSnapshot Action = "snapshot"
	// ActionTag names a snapshot.
	ActionTag Action = "tag"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleParticipant:
		return action == ActionRead || action == ActionEdit || action == ActionSnapshot
	default:
		return false
	}
}

// Resolve returns the role of participantID in a project owned by ownerID. member
// reports whether participantID is listed in the project's participants.
func Resolve(participantID, ownerID string, member bool) Role {
	switch {
	case participantID == "":
		return RoleGuest
	case participantID == ownerID:
		return RoleOwner
	case member:
		return RoleParticipant
	default:
		return RoleGuest
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleParticipant, RoleGuest:
		return Role(role)
	default:
		return RoleGuest
	}
}
