package pipeline

import (
	"errors"

	"github.com/callsight/callsight-api/internal/pbx"
	"github.com/callsight/callsight-api/internal/secrets"
)

// isPermanent classifies errors that no amount of in-attempt retrying will
// fix: a missing recording, credentials that fail to decrypt or that the PBX
// rejects, or a provider type nothing is registered for. These skip the
// remaining step backoff budget.
func isPermanent(err error) bool {
	return errors.Is(err, pbx.ErrRecordingNotFound) ||
		errors.Is(err, pbx.ErrProviderUnknown) ||
		errors.Is(err, secrets.ErrDecryption) ||
		errors.Is(err, pbx.ErrAuthFailed)
}

// isJobPermanent narrows further to errors where even a later job attempt is
// pointless. Auth rejection deliberately stays retryable at the job level: a
// later attempt may run against refreshed credentials.
func isJobPermanent(err error) bool {
	return errors.Is(err, pbx.ErrRecordingNotFound) ||
		errors.Is(err, pbx.ErrProviderUnknown)
}
