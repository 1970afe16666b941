package board

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	snapshotStrokeField    protowire.Number = 1
	snapshotUpdatedAtField protowire.Number = 2
)

func snapshotKey(code string) string {
	return "canvas:" + code
}

// EncodeSnapshot packs the ledger as a protobuf wire message:
// field 1 repeated bytes (one JSON stroke each), field 2 varint updatedAt in unix ms.
func EncodeSnapshot(strokes []Stroke, updatedAt time.Time) ([]byte, error) {
	buf := make([]byte, 0, 64*len(strokes)+16)
	for _, s := range strokes {
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, snapshotStrokeField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, raw)
	}
	if !updatedAt.IsZero() {
		buf = protowire.AppendTag(buf, snapshotUpdatedAtField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(updatedAt.UnixMilli()))
	}
	return buf, nil
}

func DecodeSnapshot(data []byte) ([]Stroke, time.Time, error) {
	var (
		strokes   []Stroke
		updatedAt time.Time
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, time.Time{}, ErrCorruptSnapshot
		}
		data = data[n:]

		switch {
		case num == snapshotStrokeField && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, time.Time{}, ErrCorruptSnapshot
			}
			var s Stroke
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, time.Time{}, ErrCorruptSnapshot
			}
			strokes = append(strokes, s)
			data = data[m:]
		case num == snapshotUpdatedAtField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, time.Time{}, ErrCorruptSnapshot
			}
			updatedAt = time.UnixMilli(int64(v))
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, time.Time{}, ErrCorruptSnapshot
			}
			data = data[m:]
		}
	}
	return strokes, updatedAt, nil
}
