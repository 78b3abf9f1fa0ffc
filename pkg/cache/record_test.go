package cache

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRecord_Binary(t *testing.T) {
	r := &Record{
		Key: "https://example.com/a.js",
		Seq: 42,
		Streams: [NumStreams][]byte{
			[]byte("headers"),
			bytes.Repeat([]byte("body"), 1024),
		},
	}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	require.Less(t, len(b), 4096)

	got := new(Record)
	require.NoError(t, got.UnmarshalBinary(b))
	if diff := cmp.Diff(r, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(7+4096), got.Size())
}

func TestRecord_EmptyStreams(t *testing.T) {
	r := &Record{Key: "k", Seq: 1}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	got := new(Record)
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, r, got)
}

func TestRecord_Corrupt(t *testing.T) {
	r := &Record{Key: "k", Seq: 1, Streams: [NumStreams][]byte{[]byte("h"), []byte("b")}}
	b, err := r.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"short", b[:6]},
		{"flipped", func() []byte {
			c := bytes.Clone(b)
			c[5] ^= 0xff
			return c
		}()},
		{"truncated", b[:len(b)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, new(Record).UnmarshalBinary(tt.b), ErrCorruptRecord)
		})
	}
}
