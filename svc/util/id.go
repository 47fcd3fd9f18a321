package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	base62Chars     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	DefaultIDLength = 12
	MinIDLength     = 10
)

// IDGenerator mints paste ids.
type IDGenerator interface {
	NewID() (string, error)
}

type NanoID struct {
	length int
}

// NewNanoID returns a generator over the base62 alphabet. Lengths below
// MinIDLength are refused since they make live collisions likely.
func NewNanoID(length int) (*NanoID, error) {
	if length < MinIDLength {
		return nil, errors.Errorf("id length must be >= %d, got %d", MinIDLength, length)
	}
	return &NanoID{length: length}, nil
}
func (g *NanoID) NewID() (string, error) {
	id, err := gonanoid.Generate(base62Chars, g.length)
	if err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return id, nil
}

// IDGeneratorFunc adapts a plain function to IDGenerator.
type IDGeneratorFunc func() (string, error)

func (f IDGeneratorFunc) NewID() (string, error) { return f() }
