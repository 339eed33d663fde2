package convert

import "fmt"

// UnsupportedFormatError reports a format pair the gateway has no conversion
// for. It is returned before the engine is touched.
type UnsupportedFormatError struct {
	From string
	To   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported conversion from %s to %s", e.From, e.To)
}
