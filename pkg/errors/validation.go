package errors

// ValidationError reports a rejected input: a bad Config field, an
// out-of-range option, a key or value that violates a size bound. field and
// rule identify what was checked so a caller can act on the failure (e.g.
// highlight a field) without parsing the message text.
type ValidationError struct {
	*baseError

	field string
	rule  string
}

// NewValidationError constructs a ValidationError around an optional
// wrapped cause.
func NewValidationError(err error, code ErrorCode, msg string) *ValidationError {
	return &ValidationError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage replaces the message, returning *ValidationError so chained
// calls keep the concrete type.
func (ve *ValidationError) WithMessage(msg string) *ValidationError {
	ve.baseError.WithMessage(msg)
	return ve
}

// WithCode replaces the classifying code.
func (ve *ValidationError) WithCode(code ErrorCode) *ValidationError {
	ve.baseError.WithCode(code)
	return ve
}

// WithDetail attaches one key/value pair of structured context.
func (ve *ValidationError) WithDetail(key string, value any) *ValidationError {
	ve.baseError.WithDetail(key, value)
	return ve
}

// WithField names the config field or parameter that failed validation.
func (ve *ValidationError) WithField(field string) *ValidationError {
	ve.field = field
	return ve
}

// WithRule names the constraint that was violated, e.g. "required" or
// "1..=65536".
func (ve *ValidationError) WithRule(rule string) *ValidationError {
	ve.rule = rule
	return ve
}

// Field returns the field name set by WithField, or "" if none was set.
func (ve *ValidationError) Field() string {
	return ve.field
}

// Rule returns the violated constraint set by WithRule, or "" if none was
// set.
func (ve *ValidationError) Rule() string {
	return ve.rule
}
