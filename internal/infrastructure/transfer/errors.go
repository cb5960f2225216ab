package transfer

import (
	"errors"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/resilience"
)

const target = "extraction upload"

// Every transfer failure is retried up to the attempt cap; only 5xx and 429
// count against the breaker.
var uploadErrors = resilience.HTTPClassifier{RetryOther: true}

func classifyTransferError(err error) resilience.ErrorClassification {
	if errors.Is(err, domain.ErrCancelled) {
		return resilience.ErrorClassification{}
	}
	return uploadErrors.Classify(err)
}
