package record

import "fmt"

// UnsupportedFormatError is returned when the input is neither RFC 822
// text nor a compound file.
type UnsupportedFormatError struct {
	Name string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Name == "" {
		return "unsupported input: not an RFC 822 message or Outlook .msg file"
	}
	return fmt.Sprintf("unsupported input %s: not an RFC 822 message or Outlook .msg file", e.Name)
}

// CorruptContainerError wraps a structural failure of the top-level
// container.
type CorruptContainerError struct {
	Name string
	Err  error
}

func (e *CorruptContainerError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("corrupt container: %v", e.Err)
	}
	return fmt.Sprintf("corrupt container %s: %v", e.Name, e.Err)
}

func (e *CorruptContainerError) Unwrap() error { return e.Err }

// NoExtractableContentError is returned when the top-level message has no
// text body, no HTML body and no attachments.
type NoExtractableContentError struct {
	Name string
}

func (e *NoExtractableContentError) Error() string {
	if e.Name == "" {
		return "no extractable content: message has no body and no attachments"
	}
	return fmt.Sprintf("no extractable content in %s: message has no body and no attachments", e.Name)
}
