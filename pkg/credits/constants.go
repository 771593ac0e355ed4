package credits

// MinutesPerCredit converts ledger credits into speaking minutes.
const MinutesPerCredit int64 = 1

const (
	operationSettle  = "settle"
	operationConsume = "consume"
	operationRefund  = "refund"
	operationAdjust  = "adjust"

	operationStatusOK        = "ok"
	operationStatusDuplicate = "duplicate"
	operationStatusError     = "error"

	referenceDelimiter    = ":"
	referenceSuffixRefund = "refund"

	defaultGeneralEnglishMinutes int64 = 5
	defaultMockTestMinutes       int64 = 15
)
