package workqueue

import (
	"context"
	"errors"
	"io"

	"github.com/joeycumines/go-longpoll"
)

// PumpConfig models optional configuration, for Pump.
type PumpConfig struct {
	// Poll controls how values are grouped into batches. See
	// [longpoll.ChannelConfig] for the defaults.
	Poll *longpoll.ChannelConfig

	// Bound switches allocation to [ChunkedQueue.NextBounded], if positive.
	Bound int
}

// Pump receives values from ch, appending them to q, until ch is closed, an
// allocation fails, or ctx is done. Values are received in batches,
// long-polling ch, and each batch is published once received. It returns
// the number of values appended, and nil if ch was closed.
//
// Pump is the queue's producer while it runs. The barrier is passed to the
// queue's allocating methods, and the config may be nil.
func Pump[T any](ctx context.Context, q *ChunkedQueue[T], b Barrier[T], ch <-chan T, cfg *PumpConfig) (n uint64, err error) {
	var c PumpConfig
	if cfg != nil {
		c = *cfg
	}
	handler := func(v T) error {
		var slot *T
		var err error
		if c.Bound > 0 {
			slot, err = q.NextBounded(b, c.Bound)
		} else {
			slot, err = q.Next(b)
		}
		if err != nil {
			return err
		}
		*slot = v
		n++
		return nil
	}
	for {
		err = longpoll.Channel(ctx, c.Poll, ch, handler)
		q.Publish()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return n, nil
		default:
			return n, err
		}
	}
}
