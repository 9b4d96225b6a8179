package campaign

import (
	"fmt"

	"github.com/pasarloka/tokenledger/models"
)

var allowedTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobPending:    {models.JobAccepted, models.JobCancelled},
	models.JobAccepted:   {models.JobInProgress, models.JobCancelled},
	models.JobInProgress: {models.JobSubmitted},
	// Rejection is not terminal: the job returns to IN_PROGRESS carrying
	// the rejection reason so the creator can resubmit.
	models.JobSubmitted: {models.JobCompleted, models.JobInProgress},
}

// ValidateTransition ensures the transition follows the defined state machine.
func ValidateTransition(current, next models.JobStatus) error {
	for _, state := range allowedTransitions[current] {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}
