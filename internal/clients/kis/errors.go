package kis

import "fmt"

// TokenError is returned when the KIS token endpoint answers with a
// non-success HTTP status. It carries the upstream status and body so the
// broker can surface a descriptive gateway error.
type TokenError struct {
	Status int
	Body   string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("KIS token failed: %d %s", e.Status, e.Body)
}

// MalformedResponseError is returned when KIS answers 200 but the body is
// missing a required field.
type MalformedResponseError struct {
	Field string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("KIS response missing %s", e.Field)
}
