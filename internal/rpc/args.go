package rpc

import (
	"encoding/json"
)

// Args is a positional argument list, each element still JSON encoded.
type Args []json.RawMessage

// NewArgs encodes values into an argument list.
func NewArgs(values ...any) (Args, error) {
	args := make(Args, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, Faultf(CodeInvalidParams, "argument %d: %v", i, err)
		}
		args[i] = raw
	}
	return args, nil
}

// Expect fails unless exactly n arguments were passed.
func (a Args) Expect(n int) error {
	if len(a) != n {
		return Faultf(CodeInvalidParams, "expected %d arguments, got %d", n, len(a))
	}
	return nil
}

// Bytes decodes argument i as a byte string. JSON null yields nil.
func (a Args) Bytes(i int) ([]byte, error) {
	var b []byte
	err := a.decode(i, &b)
	return b, err
}

// Int decodes argument i as an integer.
func (a Args) Int(i int) (int, error) {
	var n int
	err := a.decode(i, &n)
	return n, err
}

// Bool decodes argument i as a boolean.
func (a Args) Bool(i int) (bool, error) {
	var b bool
	err := a.decode(i, &b)
	return b, err
}

func (a Args) decode(i int, out any) error {
	if i < 0 || i >= len(a) {
		return Faultf(CodeInvalidParams, "missing argument %d", i)
	}
	if err := json.Unmarshal(a[i], out); err != nil {
		return Faultf(CodeInvalidParams, "argument %d: %v", i, err)
	}
	return nil
}
