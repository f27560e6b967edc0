package dispatch

// unknownModelError signals a model name absent from the registry (404).
type unknownModelError struct{ name string }

func (e unknownModelError) Error() string { return "unknown model: " + e.name }

// ErrUnknownModel constructs an unknownModelError for name.
func ErrUnknownModel(name string) error { return unknownModelError{name: name} }

// IsUnknownModel reports whether err names a model not in the registry.
func IsUnknownModel(err error) bool {
	_, ok := err.(unknownModelError)
	return ok
}

// tooBusyError signals queue overflow or admission timeout (429).
type tooBusyError struct{ model string }

func (e tooBusyError) Error() string { return "too busy: " + e.model }

// ErrTooBusy constructs a tooBusyError for model.
func ErrTooBusy(model string) error { return tooBusyError{model: model} }

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}
