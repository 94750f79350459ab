package schema

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a stable xxhash64 over the kind's canonical layout:
// name, key, and per-field name, type, presence, default, value set, and
// ordinal. Index metadata is excluded; indexes are storage tuning, not
// semantics.
func (k *RecordKind) Fingerprint() uint64 {
	d := xxhash.New()
	writeString(d, k.Name)
	writeString(d, k.Key)
	for _, f := range k.Fields {
		writeString(d, f.Name)
		writeString(d, string(f.Type))
		writeString(d, string(f.Presence))
		writeString(d, canonicalValue(f.Default))
		for _, v := range f.Values {
			writeString(d, v)
		}
		var ord [8]byte
		binary.LittleEndian.PutUint64(ord[:], uint64(f.Ordinal))
		d.Write(ord[:])
	}
	return d.Sum64()
}

func registryFingerprint(r *Registry) uint64 {
	d := xxhash.New()
	for _, name := range r.order {
		var sum [8]byte
		binary.LittleEndian.PutUint64(sum[:], r.kinds[name].Fingerprint())
		d.Write(sum[:])
	}
	return d.Sum64()
}

// canonicalValue renders a default value into a type-tagged string so that,
// for example, int64(1) and "1" never collide.
func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "~"
	case []byte:
		return fmt.Sprintf("b:%x", t)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%T:%v", t, t)
	}
}

func writeString(d *xxhash.Digest, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	d.Write(n[:])
	d.WriteString(s)
}
