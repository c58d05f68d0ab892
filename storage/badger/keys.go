package badger

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/poiesic/courtgraph/core"
)

// Key prefixes for different data types
const (
	courtPrefix    = "court:"
	judgePrefix    = "judge:"
	docketPrefix   = "docket:"
	clusterPrefix  = "cluster:"
	opinionPrefix  = "opinion:"
	citationPrefix = "cite:"
	citedByPrefix  = "citedby:"
	authorPrefix   = "judgeop:"
	runPrefix      = "run:"
)

// keySep separates the components of composite keys. Natural ids never contain it.
const keySep = 0x00

// kindPrefix returns the primary key prefix for an entity kind.
func kindPrefix(kind core.EntityKind) (string, bool) {
	switch kind {
	case core.KindCourt:
		return courtPrefix, true
	case core.KindJudge:
		return judgePrefix, true
	case core.KindDocket:
		return docketPrefix, true
	case core.KindCluster:
		return clusterPrefix, true
	case core.KindOpinion:
		return opinionPrefix, true
	}
	return "", false
}

// makeEntityKey generates the primary key for an entity.
// Format: prefix + id
func makeEntityKey(prefix string, id core.ID) []byte {
	buf := make([]byte, 0, len(prefix)+len(id))
	buf = append(buf, prefix...)
	return append(buf, id...)
}

// makePairKey generates a composite key for an ordered pair of ids.
// Format: prefix + first + 0x00 + second
func makePairKey(prefix string, first, second core.ID) []byte {
	buf := make([]byte, 0, len(prefix)+len(first)+len(second)+1)
	buf = append(buf, prefix...)
	buf = append(buf, first...)
	buf = append(buf, keySep)
	return append(buf, second...)
}

// makePartialPairKey generates a prefix matching every pair key with the given first id.
// Format: prefix + first + 0x00
func makePartialPairKey(prefix string, first core.ID) []byte {
	buf := make([]byte, 0, len(prefix)+len(first)+1)
	buf = append(buf, prefix...)
	buf = append(buf, first...)
	return append(buf, keySep)
}

// splitPairKey returns the two ids encoded in a pair key.
func splitPairKey(prefix string, key []byte) (core.ID, core.ID, bool) {
	rest := key[len(prefix):]
	i := bytes.IndexByte(rest, keySep)
	if i < 0 {
		return "", "", false
	}
	return core.ID(rest[:i]), core.ID(rest[i+1:]), true
}

// makeRunKey generates a key for a run outcome.
// Format: prefix + judgeID + 0x00 + inverted start time, so newer runs sort first.
func makeRunKey(judgeID core.ID, started time.Time) []byte {
	buf := makePartialPairKey(runPrefix, judgeID)
	offset := len(buf)
	buf = append(buf, make([]byte, 8)...)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(math.MaxInt64-started.UnixNano()))
	return buf
}
