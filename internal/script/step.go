package script

import (
	"strconv"
	"time"
)

// Step is one block of a call script: an ordered set of "Key: Value"
// fields, the first of which names the step.
type Step struct {
	Line   int
	fields []field
}

type field struct {
	Key   string
	Value string
}

// NewStep creates a Step from key-value pairs.
func NewStep(kvs ...string) Step {
	s := Step{}
	for i := 0; i+1 < len(kvs); i += 2 {
		s.fields = append(s.fields, field{Key: kvs[i], Value: kvs[i+1]})
	}
	return s
}

// Get returns the value for the given key, or empty string if not found.
func (s Step) Get(key string) string {
	v, _ := s.Lookup(key)
	return v
}

// Lookup returns the value for key and whether the key was present.
func (s Step) Lookup(key string) (string, bool) {
	for _, f := range s.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Action returns the Action field (the step type).
func (s Step) Action() string {
	return s.Get("Action")
}

// GetBool returns the boolean value for key, or false if not found/parseable.
func (s Step) GetBool(key string) bool {
	v, _ := strconv.ParseBool(s.Get(key))
	return v
}

// GetFloat returns the float value for key, or 0 if not found/parseable.
func (s Step) GetFloat(key string) float64 {
	v, _ := strconv.ParseFloat(s.Get(key), 64)
	return v
}

// GetDuration returns the duration for key, or 0 if not found/parseable.
func (s Step) GetDuration(key string) time.Duration {
	d, _ := time.ParseDuration(s.Get(key))
	return d
}

// Keys returns the field names in order.
func (s Step) Keys() []string {
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Key
	}
	return keys
}
