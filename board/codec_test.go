package board

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestSnapshotCodec(t *testing.T) {
	t.Parallel()
	updatedAt := time.UnixMilli(1_700_000_123_456)

	t.Run("Round trip keeps strokes and time", func(t *testing.T) {
		t.Parallel()
		strokes := []Stroke{
			strokeN(1),
			{A: json.RawMessage(`[1,2]`), B: json.RawMessage(`"opaque"`), Mode: "eraser", Color: "#fff", W: 12.5},
		}
		data, err := EncodeSnapshot(strokes, updatedAt)
		require.NoError(t, err)

		got, gotAt, err := DecodeSnapshot(data)
		require.NoError(t, err)
		if diff := cmp.Diff(strokes, got); diff != "" {
			t.Errorf("decoded strokes mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, updatedAt.UnixMilli(), gotAt.UnixMilli())
	})

	t.Run("Empty ledger round trip", func(t *testing.T) {
		t.Parallel()
		data, err := EncodeSnapshot(nil, updatedAt)
		require.NoError(t, err)
		got, gotAt, err := DecodeSnapshot(data)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, updatedAt.UnixMilli(), gotAt.UnixMilli())
	})

	t.Run("Unknown fields are skipped", func(t *testing.T) {
		t.Parallel()
		data, err := EncodeSnapshot([]Stroke{strokeN(3)}, updatedAt)
		require.NoError(t, err)
		data = protowire.AppendTag(data, 9, protowire.BytesType)
		data = protowire.AppendBytes(data, []byte("future"))

		got, _, err := DecodeSnapshot(data)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(3), got[0].T)
	})

	t.Run("Corrupt input", func(t *testing.T) {
		t.Parallel()
		testCases := map[string][]byte{
			"truncated tag":   {0xff},
			"truncated bytes": protowire.AppendTag(nil, 1, protowire.BytesType),
			"bad stroke json": protowire.AppendBytes(protowire.AppendTag(nil, 1, protowire.BytesType), []byte("{nope")),
		}
		for name, data := range testCases {
			_, _, err := DecodeSnapshot(data)
			assert.ErrorIs(t, err, ErrCorruptSnapshot, name)
		}
	})

	t.Run("Key format", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "canvas:ABCD1", snapshotKey("ABCD1"))
	})
}
