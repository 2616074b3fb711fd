package http

import "io"

// Validate checks that input is one well-formed HTTP/1.x message under the
// default limits: start line, header fields, framing and the body the
// framing announces. Returns nil if valid, or an *Error describing the
// first problem.
func Validate(input string) error {
	_, err := decodeMessage([]byte(input), DefaultConfig())
	return err
}

// ValidateReader reads all data from r and validates it as an HTTP/1.x message.
// See Validate for the validation semantics.
func ValidateReader(r io.Reader) error {
	data, err := readAll(r)
	if err != nil {
		return err
	}
	_, err = decodeMessage(data, DefaultConfig())
	return err
}

// ValidateWith is Validate under cfg's limits.
func ValidateWith(input string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := decodeMessage([]byte(input), cfg.withDefaults())
	return err
}
