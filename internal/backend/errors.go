package backend

// loadError marks a failed adapter initialization (missing weights,
// unreachable runtime, out of memory). The dispatcher resets the cache slot
// after one so a later request may retry explicitly.
type loadError struct{ msg string }

func (e loadError) Error() string { return "load: " + e.msg }

// ErrLoad constructs a loadError.
func ErrLoad(msg string) error { return loadError{msg: msg} }

// IsLoadError reports whether err is a backend initialization failure.
func IsLoadError(err error) bool {
	_, ok := err.(loadError)
	return ok
}

// preprocessError marks input the family cannot represent (unsupported
// segment kind, too many images, unknown template). Request-scoped.
type preprocessError struct{ msg string }

func (e preprocessError) Error() string { return "preprocess: " + e.msg }

// ErrPreprocess constructs a preprocessError.
func ErrPreprocess(msg string) error { return preprocessError{msg: msg} }

// IsPreprocessError reports whether err is a preprocessing failure.
func IsPreprocessError(err error) bool {
	_, ok := err.(preprocessError)
	return ok
}

// inferenceError marks a runtime generation failure. Never retried here:
// model state after a failed generation step is unreliable, so the operator
// decides whether to unload and reload.
type inferenceError struct{ msg string }

func (e inferenceError) Error() string { return "inference: " + e.msg }

// ErrInference constructs an inferenceError.
func ErrInference(msg string) error { return inferenceError{msg: msg} }

// IsInferenceError reports whether err is a generation runtime failure.
func IsInferenceError(err error) bool {
	_, ok := err.(inferenceError)
	return ok
}
