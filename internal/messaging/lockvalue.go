package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/footron/controller/internal/types"
)

// LockValue is the wire representation of a Lock: a bare JSON bool or
// non-negative integer (spec §3). It marshals to/from types.LockStatus so
// the rest of the system never has to reason about the bool|int union.
type LockValue types.LockStatus

func (l LockValue) MarshalJSON() ([]byte, error) {
	if l.N > 0 {
		return json.Marshal(l.N)
	}
	return json.Marshal(l.Closed)
}

func (l *LockValue) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*l = LockValue{Closed: asBool}
		return nil
	}

	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		if asInt < 0 {
			return fmt.Errorf("messaging: lock integer must be >= 0, got %d", asInt)
		}
		*l = LockValue{N: asInt}
		return nil
	}

	return fmt.Errorf("messaging: lock value must be a bool or integer")
}

// Status converts the wire value to the shared LockStatus type.
func (l LockValue) Status() types.LockStatus { return types.LockStatus(l) }
