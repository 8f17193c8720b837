package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeMissingParameter     ErrorCode = 102
	ErrCodeInvalidPriceType     ErrorCode = 103
	ErrCodeInvalidTraderIndex   ErrorCode = 104
	ErrCodeInvalidSymbol        ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound ErrorCode = 200
	ErrCodeQueryFailed  ErrorCode = 201
	ErrCodeQuoteFailed  ErrorCode = 202

	// Connection errors (300-399)
	ErrCodeConnectFailed   ErrorCode = 300
	ErrCodeSubscribeFailed ErrorCode = 301
	ErrCodeLinkDown        ErrorCode = 302

	// Auth errors (400-499)
	ErrCodeSignatureMissing ErrorCode = 400
	ErrCodeSignatureInvalid ErrorCode = 401
	ErrCodeTimestampExpired ErrorCode = 402
	ErrCodeUnknownClient    ErrorCode = 403
	ErrCodeNotLoggedIn      ErrorCode = 404

	// Trading errors (500-599)
	ErrCodeOrderFailed       ErrorCode = 500
	ErrCodeInsufficientFunds ErrorCode = 501
	ErrCodeNotHeld           ErrorCode = 502
	ErrCodeLotTooSmall       ErrorCode = 503
	ErrCodeCancelFailed      ErrorCode = 504
	ErrCodeOrderNotFound     ErrorCode = 505
)
