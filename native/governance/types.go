package governance

import (
	"sort"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Snapshot is the persisted form of the registry.
type Snapshot struct {
	Governors []ethcommon.Address
	Guardian  ethcommon.Address
	Paused    []string
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		Governors: append([]ethcommon.Address(nil), s.Governors...),
		Guardian:  s.Guardian,
		Paused:    append([]string(nil), s.Paused...),
	}
}

func sortedModules(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
