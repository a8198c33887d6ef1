package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/rmehta/stratadb/core/storage"
)

// KeyCodec and ValueCodec are function-pair serializers, generalized to
// any key/value type a caller wants to index rather than being
// hardwired to one.
type KeyCodec[K any] struct {
	Encode func(K) ([]byte, error)
	Decode func([]byte) (K, error)
}

type ValueCodec[V any] struct {
	Encode func(V) ([]byte, error)
	Decode func([]byte) (V, error)
}

// GenericKeyCodec encodes/decodes fixed-width GenericKeys of the given
// size.
func GenericKeyCodec(size int) KeyCodec[GenericKey] {
	return KeyCodec[GenericKey]{
		Encode: func(k GenericKey) ([]byte, error) {
			return append([]byte(nil), k.Bytes()...), nil
		},
		Decode: func(b []byte) (GenericKey, error) {
			k := NewGenericKey(size)
			k.SetBytes(b)
			return k, nil
		},
	}
}

// RIDValueCodec encodes/decodes RID values as an 8-byte page id followed
// by a 4-byte slot id.
func RIDValueCodec() ValueCodec[RID] {
	return ValueCodec[RID]{
		Encode: func(r RID) ([]byte, error) {
			buf := make([]byte, 12)
			binary.LittleEndian.PutUint64(buf[0:8], uint64(r.PageID))
			binary.LittleEndian.PutUint32(buf[8:12], r.SlotID)
			return buf, nil
		},
		Decode: func(b []byte) (RID, error) {
			if len(b) != 12 {
				return RID{}, fmt.Errorf("btree: malformed rid encoding, len %d", len(b))
			}
			return RID{
				PageID: storage.PageID(binary.LittleEndian.Uint64(b[0:8])),
				SlotID: binary.LittleEndian.Uint32(b[8:12]),
			}, nil
		},
	}
}
