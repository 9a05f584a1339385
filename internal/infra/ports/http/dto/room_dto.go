package dto

import (
	"github.com/google/uuid"

	"github.com/codepair/collab/internal/domain/models"
)

type ParticipantDTO struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// CreateRoomRequest is posted by the matching service once it has paired two
// users on a question.
type CreateRoomRequest struct {
	ID           string           `json:"id"`
	QuestionID   string           `json:"question_id"`
	Participants []ParticipantDTO `json:"participants"`
}

func (r *CreateRoomRequest) ToInput() *models.CreateRoomInput {
	parts := make(models.Participants, 0, len(r.Participants))
	for _, p := range r.Participants {
		parts = append(parts, models.Participant{ID: p.ID, Username: p.Username})
	}
	return &models.CreateRoomInput{
		ID:           r.ID,
		QuestionID:   r.QuestionID,
		Participants: parts,
	}
}
