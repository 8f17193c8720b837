package session

import "github.com/quantbridge/quantbridge/internal/broker"

// PositionFilter selects which positions a query returns.
type PositionFilter int

const (
	// FilterUsable keeps positions with sellable volume.
	FilterUsable PositionFilter = iota
	// FilterPending keeps positions held but entirely locked up.
	FilterPending
	// FilterHeld keeps any position with nonzero total volume.
	FilterHeld
	// FilterAll keeps every record the broker reports, including flat ones.
	FilterAll
)

func (f PositionFilter) match(pos broker.Position) bool {
	switch f {
	case FilterUsable:
		return pos.UsableVolume > 0
	case FilterPending:
		return pos.Volume > 0 && pos.UsableVolume == 0
	case FilterHeld:
		return pos.Volume > 0
	default:
		return true
	}
}
