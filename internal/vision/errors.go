package vision

// invalidImageError marks an image segment that could not be fetched or
// decoded. Request-scoped; never retried.
type invalidImageError struct{ msg string }

func (e invalidImageError) Error() string { return "invalid image: " + e.msg }

// ErrInvalidImage constructs an invalidImageError.
func ErrInvalidImage(msg string) error { return invalidImageError{msg: msg} }

// IsInvalidImage reports whether err indicates a bad image input.
func IsInvalidImage(err error) bool {
	_, ok := err.(invalidImageError)
	return ok
}

// invalidRequestError marks a structurally bad message list (unknown role or
// content part type).
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// ErrInvalidRequest constructs an invalidRequestError.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err indicates a malformed request.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}
