package idgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/sonyflake"
)

// epoch is the sonyflake start time for provisional message ids.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator produces provisional message ids. Ids are time-ordered:
// 39 bits of 10ms ticks since epoch, 8 bits sequence, 16 bits machine id.
type Generator struct {
	sf *sonyflake.Sonyflake
}

// New creates a generator for the given machine id.
func New(machineID uint16) (*Generator, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: epoch,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if sf == nil {
		return nil, errors.New("sonyflake: invalid settings")
	}
	return &Generator{sf: sf}, nil
}

// NextID returns a new provisional id.
func (g *Generator) NextID() (int64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return int64(id), nil
}

// CreatedAt extracts the creation time encoded in id.
func CreatedAt(id int64) time.Time {
	parts := sonyflake.Decompose(uint64(id))
	return epoch.Add(time.Duration(parts["time"]) * 10 * time.Millisecond)
}
