package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

var (
	ErrNoChallenge       = errors.New("no pending challenge")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeRejected = errors.New("challenge rejected")
	ErrNotAccepted       = errors.New("account not accepted")
)

// ChallengeRequiredError is returned when login needs input from the
// operator. The value is supplied later through SubmitChallenge.
type ChallengeRequiredError struct {
	AccountID string
	Stage     models.ChallengeStage
	ExpiresAt time.Time
}

func (e *ChallengeRequiredError) Error() string {
	return fmt.Sprintf("account %s: %s required", e.AccountID, e.Stage)
}
