package registry

// configError marks a malformed or invalid model configuration. It is fatal
// at startup; nothing downstream retries it.
type configError struct{ msg string }

func (e configError) Error() string { return "config: " + e.msg }

// NewConfigError constructs a configError with the given message.
func NewConfigError(msg string) error { return configError{msg: msg} }

// IsConfigError reports whether err is a model configuration error.
func IsConfigError(err error) bool {
	_, ok := err.(configError)
	return ok
}
