package machine

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Hasher can be implemented by actor data to fold user state into the
// program fingerprint. Without it only the control state of an actor is
// hashed, so two actors differing only in data look identical.
type Hasher interface {
	HashState() uint64
}

// fingerprint hashes the global program state. Per-entity hashes are summed
// so the result does not depend on enumeration order. Collisions are
// possible and accepted.
func (rt *Runtime) fingerprint() uint64 {
	d := xxhash.New()
	var sum uint64
	for _, a := range rt.actors {
		sum += actorHash(d, a)
	}
	for _, m := range rt.monitors {
		sum += monitorHash(d, m)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sum)
	return xxhash.Sum64(buf[:])
}

func actorHash(d *xxhash.Digest, a *actor) uint64 {
	d.Reset()
	_, _ = d.WriteString(a.mt.name)
	writeUint64(d, a.id.Value)
	writeUint64(d, uint64(a.status()))
	if !a.started {
		_, _ = d.WriteString("!")
	}
	_, _ = d.WriteString("|")
	for _, s := range a.stack {
		_, _ = d.WriteString(s.name)
		_, _ = d.WriteString("/")
	}
	_, _ = d.WriteString("|")

	types := make([]string, len(a.inbox))
	for i, ev := range a.inbox {
		types[i] = string(ev.Type)
	}
	sort.Strings(types)
	for _, t := range types {
		_, _ = d.WriteString(t)
		_, _ = d.WriteString(",")
	}
	_, _ = d.WriteString("|")
	for _, t := range a.waitingTypes() {
		_, _ = d.WriteString(t)
		_, _ = d.WriteString(",")
	}

	if h, ok := a.data.(Hasher); ok {
		writeUint64(d, h.HashState())
	}
	return d.Sum64()
}

func monitorHash(d *xxhash.Digest, m *actor) uint64 {
	d.Reset()
	_, _ = d.WriteString("monitor:")
	_, _ = d.WriteString(m.mt.name)
	if s := m.top(); s != nil {
		_, _ = d.WriteString(s.name)
		writeUint64(d, uint64(s.temperature))
	}
	if h, ok := m.data.(Hasher); ok {
		writeUint64(d, h.HashState())
	}
	return d.Sum64()
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}
