package table

import (
	"encoding/binary"
	"fmt"
	"math"
)

const tokenVersion = byte(1)

// encodeToken packs the index of the last entry a Get returned. -1 means
// nothing has been returned yet.
func encodeToken(lastSeen int) []byte {
	buf := make([]byte, 1+binary.MaxVarintLen64)
	buf[0] = tokenVersion
	n := binary.PutVarint(buf[1:], int64(lastSeen))
	return buf[:1+n]
}

// decodeToken is the inverse of encodeToken. A nil token starts from the
// beginning.
func decodeToken(token []byte) (int, error) {
	if len(token) == 0 {
		return -1, nil
	}
	if token[0] != tokenVersion {
		return 0, fmt.Errorf("%w: token version %d", ErrInvalidArgument, token[0])
	}
	v, n := binary.Varint(token[1:])
	if n <= 0 || n != len(token)-1 || v < -1 {
		return 0, fmt.Errorf("%w: malformed token", ErrInvalidArgument)
	}
	// No key holds more entries than this; larger positions were never issued.
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: token position %d out of range", ErrInvalidArgument, v)
	}
	return int(v), nil
}
