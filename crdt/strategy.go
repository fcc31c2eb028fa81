package crdt

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/app/logger"
)

var log = logger.NewNamed("crdt")

// HeightStrategy computes the ordering key of a new entry from its parents.
// It is configured per database and can be overridden per store.
type HeightStrategy int

const (
	// Incremental is 1 + max(parent heights), 0 for roots.
	Incremental HeightStrategy = iota
	// Timestamp is wall-clock milliseconds, clamped to stay monotonically
	// above every observed parent so causal order survives clock skew.
	Timestamp
)

const (
	incrementalName = "incremental"
	timestampName   = "timestamp"
)

func (s HeightStrategy) String() string {
	if s == Timestamp {
		return timestampName
	}
	return incrementalName
}

// ParseHeightStrategy parses the settings representation of a strategy.
func ParseHeightStrategy(name string) (HeightStrategy, error) {
	switch name {
	case incrementalName:
		return Incremental, nil
	case timestampName:
		return Timestamp, nil
	default:
		return Incremental, fmt.Errorf("%w: unknown height strategy %q", ErrSerialization, name)
	}
}

// Calculate returns the height of an entry with the given parent heights.
// An empty parent set means a root.
func (s HeightStrategy) Calculate(parentHeights []uint64) uint64 {
	var minHeight uint64
	if len(parentHeights) > 0 {
		var maxParent uint64
		for _, h := range parentHeights {
			if h > maxParent {
				maxParent = h
			}
		}
		minHeight = maxParent + 1
	}
	if s != Timestamp {
		return minHeight
	}

	now := uint64(time.Now().UnixMilli())
	if minHeight > now {
		log.Warn("clock skew detected: parent height is ahead of local clock",
			zap.Uint64("parentHeight", minHeight-1),
			zap.Uint64("nowMs", now),
			zap.Uint64("skewMs", minHeight-now))
		return minHeight
	}
	return now
}
