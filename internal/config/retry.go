package config

import "git.home.luguber.info/inful/prebake/internal/foundation/normalization"

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var backoffModes = normalization.NewEnum("cleanup.backoff", RetryBackoffLinear,
	RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential)
