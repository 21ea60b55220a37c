package domain

// Participant is a remote party of the current call session.
// No transport or lifecycle logic here.
type Participant struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Online      bool   `json:"online"`
}

// NewParticipant keeps construction obvious; display name falls back to the id.
func NewParticipant(id UserID, online bool) Participant {
	return Participant{ID: id, DisplayName: string(id), Online: online}
}
