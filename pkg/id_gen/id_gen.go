// Package id_gen issues process-unique numeric ids, used for retrieval
// job ids. Sonyflake ids are time-ordered, which keeps retrieval markers
// roughly chronological on disk.
package id_gen

import (
	"context"
	"time"

	"github.com/sony/sonyflake/v2"
)

// Epoch anchors the sonyflake timestamp component. Changing it after
// ids have been issued would break the ordering guarantee.
var Epoch = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

type IdGenerator interface {
	NextId(ctx context.Context) (int64, error)
}

var generator IdGenerator

// SetGenerator swaps the generator, intended for deterministic tests.
func SetGenerator(g IdGenerator) {
	generator = g
}

func NextId(ctx context.Context) (int64, error) {
	return generator.NextId(ctx)
}

type flakeGenerator struct {
	sf *sonyflake.Sonyflake
}

func (f *flakeGenerator) NextId(ctx context.Context) (int64, error) {
	return f.sf.NextID()
}

func init() {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: Epoch})
	if err != nil {
		panic(err)
	}
	generator = &flakeGenerator{sf: sf}
}
