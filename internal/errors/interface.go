package errors

// ErrorCode identifies a failure class. Codes are stable strings so they can
// be logged and matched across package boundaries.
type ErrorCode string

// Coded is satisfied by any error that carries an ErrorCode.
type Coded interface {
	Code() ErrorCode
}

// Error is a coded error with optional message override, payload and cause.
// WithMessage and WithData return copies.
type Error interface {
	error
	Coded
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
