package rules

// Settings carries the evaluated values a rule attached to a capability,
// keyed by setting name. Each value holds whatever type the rule's
// expression produced, so access goes through the typed getters.
type Settings map[string]interface{}

func (s Settings) String(k string) (string, bool) {
	if val, found := s[k]; found {
		str, ok := val.(string)
		return str, ok
	}

	return "", false
}

func (s Settings) Boolean(k string) (bool, bool) {
	if val, found := s[k]; found {
		b, ok := val.(bool)
		return b, ok
	}

	return false, false
}

func (s Settings) Int(k string) (int, bool) {
	if val, found := s[k]; found {
		i, ok := val.(int)
		return i, ok
	}

	return 0, false
}

func (s Settings) Float(k string) (float64, bool) {
	if val, found := s[k]; found {
		f, ok := val.(float64)
		return f, ok
	}

	return 0.0, false
}
