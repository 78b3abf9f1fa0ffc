package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
)

// Record is the persistent form of an entry.
//
// Wire format:
//
//	magic (4 bytes) | uvarint seq | uvarint len | key |
//	NumStreams x (uvarint raw len | uvarint snappy len | snappy block) |
//	xxhash64 of all preceding bytes (8 bytes, little endian)
type Record struct {
	Key     string
	Seq     uint64
	Streams [NumStreams][]byte
}

var recordMagic = [4]byte{'C', 'S', 'R', '1'}

const checksumLen = 8

// Size returns the sum of stream sizes.
func (r *Record) Size() int64 {
	var n int64
	for _, s := range r.Streams {
		n += int64(len(s))
	}
	return n
}

func (r *Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 32+len(r.Key)+int(r.Size()))
	b = append(b, recordMagic[:]...)
	b = binary.AppendUvarint(b, r.Seq)
	b = binary.AppendUvarint(b, uint64(len(r.Key)))
	b = append(b, r.Key...)
	for _, s := range r.Streams {
		c := snappy.Encode(nil, s)
		b = binary.AppendUvarint(b, uint64(len(s)))
		b = binary.AppendUvarint(b, uint64(len(c)))
		b = append(b, c...)
	}
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	return b, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < len(recordMagic)+checksumLen {
		return fmt.Errorf("%w: record too short", ErrCorruptRecord)
	}
	body, sum := b[:len(b)-checksumLen], b[len(b)-checksumLen:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}
	if [4]byte(body[:4]) != recordMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptRecord)
	}
	body = body[4:]

	seq, body, err := readUvarint(body)
	if err != nil {
		return err
	}
	keyLen, body, err := readUvarint(body)
	if err != nil {
		return err
	}
	if keyLen > uint64(len(body)) {
		return fmt.Errorf("%w: key overflows record", ErrCorruptRecord)
	}
	r.Seq = seq
	r.Key = string(body[:keyLen])
	body = body[keyLen:]

	for i := range r.Streams {
		var rawLen, compLen uint64
		rawLen, body, err = readUvarint(body)
		if err != nil {
			return err
		}
		compLen, body, err = readUvarint(body)
		if err != nil {
			return err
		}
		if compLen > uint64(len(body)) {
			return fmt.Errorf("%w: stream %d overflows record", ErrCorruptRecord, i)
		}
		s, err := snappy.Decode(nil, body[:compLen])
		if err != nil {
			return fmt.Errorf("%w: stream %d: %v", ErrCorruptRecord, i, err)
		}
		if uint64(len(s)) != rawLen {
			return fmt.Errorf("%w: stream %d length mismatch", ErrCorruptRecord, i)
		}
		if len(s) == 0 {
			s = nil
		}
		r.Streams[i] = s
		body = body[compLen:]
	}
	if len(body) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, len(body))
	}
	return nil
}

func readUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, fmt.Errorf("%w: bad varint", ErrCorruptRecord)
	}
	return v, b[n:], nil
}
