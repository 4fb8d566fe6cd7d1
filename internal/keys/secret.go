package keys

// Secret is a string that refuses to print itself. It covers every path a
// key could take into a log line or encoded payload: fmt verbs (%s, %v,
// %#v), JSON, and text marshalling all yield the redaction marker. Code
// that genuinely needs the key calls Reveal.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// Reveal returns the underlying value.
func (s Secret) Reveal() string { return string(s) }
