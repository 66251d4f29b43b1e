package capture

import "errors"

var (
	// ErrCameraUnavailable marks a device or permission problem. Recovered
	// locally: the session stays in the capturing stage and the caller
	// offers file upload instead.
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrOCRProcessing marks an engine failure or an empty recognition. The
	// session reverts to capturing so the user retries the capture rather
	// than confirming an empty plate.
	ErrOCRProcessing = errors.New("ocr processing failed")

	// ErrInvalidInput marks a caller mistake (empty plate, missing image).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidStage marks an operation issued outside its stage.
	ErrInvalidStage = errors.New("operation not valid in current stage")

	// ErrStaleSession means the session was reset while the operation was in
	// flight; its result has been discarded.
	ErrStaleSession = errors.New("session was reset")
)
