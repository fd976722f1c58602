package domain

type RoomID string

// Room is the directory service's record of a voice room. Private rooms
// ("ghost" rooms) are excluded from public listings.
type Room struct {
	ID           RoomID   `json:"id"`
	Name         string   `json:"name"`
	Color        string   `json:"color,omitempty"`
	CreatorID    UserID   `json:"creator_id"`
	Private      bool     `json:"private"`
	Participants []UserID `json:"participants"`
}

// HasParticipant reports whether user is currently listed in the room.
func (r *Room) HasParticipant(user UserID) bool {
	for _, p := range r.Participants {
		if p == user {
			return true
		}
	}
	return false
}
