// Package envelope defines the stored unit: the original stream key plus the
// event payload, encoded as
//
//	[4-byte big-endian key length][key bytes][payload bytes]
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const headerSize = 4

var (
	ErrTruncated = errors.New("envelope: truncated header")
	ErrKeyLength = errors.New("envelope: key length exceeds value")
	ErrKeyTooBig = errors.New("envelope: key longer than 4GiB")
)

type Envelope struct {
	Key     []byte
	Payload []byte
}

func Encode(e Envelope) ([]byte, error) {
	if uint64(len(e.Key)) > math.MaxUint32 {
		return nil, ErrKeyTooBig
	}
	buf := make([]byte, headerSize+len(e.Key)+len(e.Payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(e.Key)))
	n := copy(buf[headerSize:], e.Key)
	copy(buf[headerSize+n:], e.Payload)
	return buf, nil
}

// Decode copies out of b. A zero-length key decodes to nil so a null stream
// key stays null when republished.
func Decode(b []byte) (Envelope, error) {
	if len(b) < headerSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	keyLen := uint64(binary.BigEndian.Uint32(b[:headerSize]))
	if keyLen > uint64(len(b)-headerSize) {
		return Envelope{}, fmt.Errorf("%w: key %d, available %d", ErrKeyLength, keyLen, len(b)-headerSize)
	}
	rest := b[headerSize:]
	var e Envelope
	if keyLen > 0 {
		e.Key = append([]byte(nil), rest[:keyLen]...)
	}
	e.Payload = append([]byte(nil), rest[keyLen:]...)
	return e, nil
}
