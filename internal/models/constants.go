package models

// Retry and pagination defaults shared across packages. Values mirror the
// catalog API guidance: five attempts with exponential backoff capped at a
// minute, and a hard listing cap so a runaway cursor cannot pull the remote
// catalog forever.
const (
	MaxRetries = 5

	DefaultPageSize = 100
	ListHardCap     = 10000

	DefaultCurrency = "USD"

	DefaultReconcileBatchSize = 10

	NameMaxLen        = 150
	DescriptionMaxLen = 5000
	MaxAdditionalImgs = 10
)
