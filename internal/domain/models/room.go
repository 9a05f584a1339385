package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant is one of the two users paired into a room by the matching
// service.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Forfeited bool      `json:"forfeited"`
}

// Participants is stored as a jsonb column.
type Participants []Participant

func (p Participants) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Participants) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("scan participants: unsupported type %T", src)
	}
}

// Room is the persisted pairing of two participants with one shared document
// and one shared question. Created by the matching flow; this service only
// flips Open to false or marks a forfeit.
type Room struct {
	ID           string       `json:"id" db:"id"`
	Participants Participants `json:"participants" db:"participants"`
	QuestionID   string       `json:"question_id" db:"question_id"`
	Open         bool         `json:"open" db:"open"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// Capacity is how many simultaneous connections the room admits. Rooms are
// pairs; the protocol itself does not care.
func (r *Room) Capacity() int {
	if len(r.Participants) > 0 {
		return len(r.Participants)
	}
	return 2
}

type CreateRoomInput struct {
	ID           string
	Participants Participants
	QuestionID   string
}

func NewRoom(input *CreateRoomInput) *Room {
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Room{
		ID:           id,
		Participants: input.Participants,
		QuestionID:   input.QuestionID,
		Open:         true,
		CreatedAt:    time.Now(),
	}
}
