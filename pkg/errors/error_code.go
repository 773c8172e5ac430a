package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Market data errors (100-199)
	ErrCodeOutOfOrderBar  ErrorCode = 100
	ErrCodeMalformedBar   ErrorCode = 101
	ErrCodeDuplicateBar   ErrorCode = 102
	ErrCodeFeedClosed     ErrorCode = 103
	ErrCodeFeedConnection ErrorCode = 104

	// Series errors (200-299)
	ErrCodeInsufficientHistory ErrorCode = 200
	ErrCodeInvalidWindow       ErrorCode = 201

	// Indicator errors (300-399)
	ErrCodeIndicatorNotFound      ErrorCode = 300
	ErrCodeIndicatorAlreadyExists ErrorCode = 301
	ErrCodeIndicatorUnavailable   ErrorCode = 302
	ErrCodeInvalidPeriod          ErrorCode = 303

	// Risk errors (400-499)
	ErrCodeInsufficientRiskBudget ErrorCode = 400
	ErrCodeInvalidStopDistance    ErrorCode = 401
	ErrCodeInvalidRiskFraction    ErrorCode = 402

	// Broker errors (500-599)
	ErrCodeTransientBroker    ErrorCode = 500
	ErrCodeRejectedOrder      ErrorCode = 501
	ErrCodeRetriesExhausted   ErrorCode = 502
	ErrCodeOrderNotFound      ErrorCode = 503
	ErrCodeOrderAlreadyFilled ErrorCode = 504
	ErrCodeInvalidOrder       ErrorCode = 505

	// Position errors (600-699)
	ErrCodeInvalidTransition   ErrorCode = 600
	ErrCodeOrderAlreadyPending ErrorCode = 601
	ErrCodePositionNotFound    ErrorCode = 602

	// Config errors (700-799)
	ErrCodeFatalConfig          ErrorCode = 700
	ErrCodeInvalidConfiguration ErrorCode = 701
)
