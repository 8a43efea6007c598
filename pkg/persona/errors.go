package persona

import "fmt"

// ConfigError reports a persona file that cannot be used. It is only ever
// returned at load time.
type ConfigError struct {
	Persona string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Persona == "" {
		return fmt.Sprintf("persona config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("persona %q: %s: %s", e.Persona, e.Field, e.Reason)
}

func configErr(persona, field, format string, args ...any) error {
	return &ConfigError{Persona: persona, Field: field, Reason: fmt.Sprintf(format, args...)}
}
