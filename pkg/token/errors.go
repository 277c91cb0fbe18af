package token

import "fmt"

// ConfigurationError means a required input was absent or unusable. Nothing
// is signed when it is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ConfigurationError{Field: field, Reason: "missing"}
}
