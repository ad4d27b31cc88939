// errors.go — Page-originated error values.
package host

import "errors"

// JSError is an error raised by page code. It carries a constructor name and a
// stack string the way script errors do.
type JSError struct {
	Name    string
	Message string
	Stack   string
}

func (e *JSError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// ErrorName returns the constructor name of err ("Error" when unknown).
func ErrorName(err error) string {
	var js *JSError
	if errors.As(err, &js) && js != nil && js.Name != "" {
		return js.Name
	}
	return "Error"
}

// ErrorMessage returns the bare message of err without its name prefix.
func ErrorMessage(err error) string {
	var js *JSError
	if errors.As(err, &js) {
		if js == nil {
			return ""
		}
		return js.Message
	}
	return err.Error()
}

// ErrorStack returns the stack string attached to err, if any.
func ErrorStack(err error) string {
	var js *JSError
	if errors.As(err, &js) {
		if js == nil {
			return ""
		}
		return js.Stack
	}
	var st interface{ Stack() string }
	if errors.As(err, &st) {
		return st.Stack()
	}
	return ""
}

var (
	// ErrInvalidState is returned by XHR methods called out of order.
	ErrInvalidState = errors.New("xhr: invalid state")
)
