package wire

// Error codes follow the gRPC numbering the rest of our services use.
const (
	ErrorCodeInvalidArguments = 3
	ErrorCodeUnauthorized     = 7
	ErrorCodeInternal         = 13
)

// Error is the typed failure sent back to the requesting connection.
// Unauthorized mutations get an explicit rejection instead of a silent
// drop so clients can distinguish them from validation failures.
type Error struct {
	Code   int      `json:"code"`
	Params []string `json:"params,omitempty"`
}

func NewInvalidArgumentError(errs ...string) *Error {
	return &Error{Code: ErrorCodeInvalidArguments, Params: errs}
}

func NewUnauthorizedError(errs ...string) *Error {
	return &Error{Code: ErrorCodeUnauthorized, Params: errs}
}

func NewInternalError(err string) *Error {
	return &Error{Code: ErrorCodeInternal, Params: []string{err}}
}

// Intercept hides internal error details from end users.
func Intercept(err *Error) {
	if err != nil && err.Code == ErrorCodeInternal {
		err.Params = []string{"temp storage error"}
	}
}
