package errors

// baseError is the common shape every error kind in this package embeds: a
// wrapped cause, a user-facing message, a classifying code, and a lazily
// allocated detail bag for structured logging. Storage/corruption/
// validation errors all build on it so call sites can errors.As into
// whichever concrete kind they care about while Error()/Unwrap()/Code()
// behave uniformly across the tree.
type baseError struct {
	cause   error
	message string
	code    ErrorCode
	details map[string]any
}

// NewBaseError wraps err with a code and message. err may be nil for an
// error originating inside this package rather than wrapping an I/O or
// decode failure.
func NewBaseError(err error, code ErrorCode, msg string) *baseError {
	return &baseError{cause: err, code: code, message: msg}
}

// WithMessage replaces the error's message.
func (be *baseError) WithMessage(msg string) *baseError {
	be.message = msg
	return be
}

// WithCode replaces the error's classifying code.
func (be *baseError) WithCode(code ErrorCode) *baseError {
	be.code = code
	return be
}

// WithDetail attaches one key/value pair of structured context, allocating
// the detail map on first use.
func (be *baseError) WithDetail(key string, value any) *baseError {
	if be.details == nil {
		be.details = make(map[string]any)
	}
	be.details[key] = value
	return be
}

// Error satisfies the error interface with the message set at construction
// or by WithMessage.
func (b *baseError) Error() string {
	return b.message
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (b *baseError) Unwrap() error {
	return b.cause
}

// Code reports the classifying ErrorCode, letting a caller branch on error
// kind without string-matching the message.
func (b *baseError) Code() ErrorCode {
	return b.code
}

// Details returns the attached context map. The caller gets the live map,
// not a copy.
func (b *baseError) Details() map[string]any {
	return b.details
}
