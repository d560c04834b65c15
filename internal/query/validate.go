package query

import "errors"

var ErrInvalidSubject = errors.New("subject contains disallowed characters")

// CheckSubject accepts only ASCII letters and digits. This is the guard
// that keeps shell metacharacters and option injection out of the command
// line handed to the control tool. The empty string passes vacuously;
// callers that need a non-empty subject must enforce that themselves.
func CheckSubject(subject string) error {
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return ErrInvalidSubject
		}
	}
	return nil
}
