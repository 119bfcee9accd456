package pkg

import "errors"

// Block driver errors.
var (
	// ErrNotReady indicates the card is not initialized.
	ErrNotReady = errors.New("not ready")

	// ErrParam indicates an invalid parameter, such as a zero sector count.
	ErrParam = errors.New("invalid parameter")

	// ErrWriteProtected indicates a write to protected media.
	ErrWriteProtected = errors.New("write protected")

	// ErrIO indicates a failed transfer, such as a missing data token or a
	// rejected data block.
	ErrIO = errors.New("I/O error")

	// ErrTimeout indicates a bounded wait expired.
	ErrTimeout = errors.New("timeout")

	// ErrNoDisk indicates no card is present in the socket.
	ErrNoDisk = errors.New("no disk")

	// ErrNotSupported indicates the card or backend lacks the capability.
	ErrNotSupported = errors.New("not supported")
)

// Result is the coarse outcome of a block driver operation.
type Result int

// Result values.
const (
	ResultOK             Result = iota // Operation succeeded
	ResultError                        // Unrecoverable transfer error
	ResultWriteProtected               // Medium is write protected
	ResultNotReady                     // Card not initialized
	ResultParamError                   // Invalid parameter
)

// String returns a string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultError:
		return "error"
	case ResultWriteProtected:
		return "write protected"
	case ResultNotReady:
		return "not ready"
	case ResultParamError:
		return "parameter error"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error for the result.
func (r Result) Error() error {
	switch r {
	case ResultOK:
		return nil
	case ResultWriteProtected:
		return ErrWriteProtected
	case ResultNotReady:
		return ErrNotReady
	case ResultParamError:
		return ErrParam
	default:
		return ErrIO
	}
}

// ResultOf classifies err into a Result. Errors outside the block driver
// taxonomy classify as ResultError.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrParam):
		return ResultParamError
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNoDisk):
		return ResultNotReady
	case errors.Is(err, ErrWriteProtected):
		return ResultWriteProtected
	default:
		return ResultError
	}
}
