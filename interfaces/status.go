package interfaces

// Status is a client-visible validation response code. The set is fixed by
// the validation protocol; internal diagnostics (bad CRC vs private id
// mismatch) deliberately collapse into StatusBadOTP so responses leak no
// oracle about why a forged OTP failed.
type Status string

const (
	StatusOK                  Status = "OK"
	StatusBadOTP              Status = "BAD_OTP"
	StatusReplayedOTP         Status = "REPLAYED_OTP"
	StatusBadSignature        Status = "BAD_SIGNATURE"
	StatusMissingParameter    Status = "MISSING_PARAMETER"
	StatusNoSuchClient        Status = "NO_SUCH_CLIENT"
	StatusOperationNotAllowed Status = "OPERATION_NOT_ALLOWED"
	StatusBackendError        Status = "BACKEND_ERROR"
	StatusNotEnoughAnswers    Status = "NOT_ENOUGH_ANSWERS"
	StatusReplayedRequest     Status = "REPLAYED_REQUEST"
)

// String returns the wire form of the status.
func (s Status) String() string { return string(s) }
