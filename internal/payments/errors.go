package payments

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAssetNotFound means the referenced catalog asset does not exist.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrUnlockLayerNotFound means the referenced unlock layer does not
	// exist or belongs to a different asset.
	ErrUnlockLayerNotFound = errors.New("unlock layer not found")
	// ErrChallengeNotFound means the payment request token does not match
	// any issued challenge.
	ErrChallengeNotFound = errors.New("payment challenge not found")
	// ErrInvalidTxHash means the submitted transaction hash is malformed.
	ErrInvalidTxHash = errors.New("invalid transaction hash")
)

// ExpiredChallengeError rejects a verify call whose challenge deadline has
// passed, echoing the original expiry so the client can see by how much.
type ExpiredChallengeError struct {
	ExpiresAt time.Time
}

func (e *ExpiredChallengeError) Error() string {
	return fmt.Sprintf("payment challenge expired at %s", e.ExpiresAt.UTC().Format(time.RFC3339))
}

// AsExpiredChallenge unwraps err into an ExpiredChallengeError if it is one.
func AsExpiredChallenge(err error) (*ExpiredChallengeError, bool) {
	var expErr *ExpiredChallengeError
	if errors.As(err, &expErr) {
		return expErr, true
	}
	return nil, false
}
