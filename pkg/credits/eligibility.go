package credits

import "fmt"

// ActivityKind names a timed activity gated by the balance.
type ActivityKind string

const (
	ActivityGeneralEnglish ActivityKind = "general-english"
	ActivityMockTest       ActivityKind = "mock-test"
)

// ParseActivityKind validates an activity kind.
func ParseActivityKind(raw string) (ActivityKind, error) {
	switch ActivityKind(raw) {
	case ActivityGeneralEnglish, ActivityMockTest:
		return ActivityKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidActivityKind, raw)
}

// String returns the stored kind value.
func (kind ActivityKind) String() string {
	return string(kind)
}

// EligibilityPolicy maps activity kinds to required minutes. Different
// activities burn time at different rates, so each kind carries its own
// threshold.
type EligibilityPolicy struct {
	GeneralEnglishMinutes int64
	MockTestMinutes       int64
}

// DefaultEligibilityPolicy returns the shipped thresholds.
func DefaultEligibilityPolicy() EligibilityPolicy {
	return EligibilityPolicy{
		GeneralEnglishMinutes: defaultGeneralEnglishMinutes,
		MockTestMinutes:       defaultMockTestMinutes,
	}
}

// Threshold returns the minimum minutes required for an activity kind.
func (policy EligibilityPolicy) Threshold(kind ActivityKind) (int64, error) {
	switch kind {
	case ActivityGeneralEnglish:
		return policy.GeneralEnglishMinutes, nil
	case ActivityMockTest:
		return policy.MockTestMinutes, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidActivityKind, kind.String())
}

// CanStart reports whether a balance clears the threshold for an activity.
// Unknown kinds never clear.
func (policy EligibilityPolicy) CanStart(kind ActivityKind, currentCredits int64) bool {
	threshold, err := policy.Threshold(kind)
	if err != nil {
		return false
	}
	return MinutesForCredits(currentCredits) >= threshold
}

// MinutesForCredits converts a credit balance into speaking minutes.
func MinutesForCredits(credits int64) int64 {
	if credits <= 0 {
		return 0
	}
	return credits * MinutesPerCredit
}
