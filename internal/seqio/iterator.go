package seqio

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/token"
)

// IteratorConfig shapes the batches an Iterator yields.
type IteratorConfig struct {
	// SeqLen is the fixed row length. Longer sequences are clipped, shorter
	// ones right padded with the pad token.
	SeqLen int

	// BatchSize is the number of rows per batch. Only full batches are
	// yielded.
	BatchSize int

	// Skip consumes this many sequences before the first batch, so a resumed
	// run continues where it left off. With Loop set the skip wraps around
	// the split.
	Skip int

	// Loop restarts from the first shard after the last, yielding batches
	// forever.
	Loop bool
}

// Iterator streams fixed-shape batches out of a split's shards.
type Iterator struct {
	paths []string
	cfg   IteratorConfig

	shard   int
	f       *os.File
	rr      *RecordReader
	skipped bool

	// consumed counts sequences handed out since the skip point.
	consumed int
}

// Iterator opens a batch iterator over a split.
func (d *Dataset) Iterator(split string, cfg IteratorConfig) (*Iterator, error) {
	if cfg.SeqLen <= 0 {
		return nil, errors.Errorf("iterator needs a positive sequence length, got %d", cfg.SeqLen)
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("iterator needs a positive batch size, got %d", cfg.BatchSize)
	}

	paths := d.shardPaths(split)
	if len(paths) == 0 {
		return nil, errors.Errorf("dataset has no %q split", split)
	}
	if d.Count(split) == 0 {
		return nil, errors.Errorf("split %q is empty", split)
	}

	if cfg.Loop && cfg.Skip > 0 {
		if total := d.Count(split); total > 0 {
			cfg.Skip %= total
		}
	}

	return &Iterator{paths: paths, cfg: cfg, shard: -1}, nil
}

// Next assembles the next batch. It returns io.EOF when the split is
// exhausted and the iterator does not loop; a trailing partial batch is
// dropped.
func (it *Iterator) Next() ([][]byte, error) {
	if !it.skipped {
		for i := 0; i < it.cfg.Skip; i++ {
			if _, err := it.nextRecord(); err != nil {
				return nil, err
			}
		}
		it.skipped = true
	}

	batch := make([][]byte, 0, it.cfg.BatchSize)
	for len(batch) < it.cfg.BatchSize {
		rec, err := it.nextRecord()
		if err != nil {
			return nil, err
		}
		batch = append(batch, fit(rec, it.cfg.SeqLen))
		it.consumed++
	}
	return batch, nil
}

// Consumed returns the number of sequences yielded since the skip point.
func (it *Iterator) Consumed() int {
	return it.consumed
}

func (it *Iterator) nextRecord() ([]byte, error) {
	for {
		if it.rr == nil {
			if err := it.openNextShard(); err != nil {
				return nil, err
			}
		}

		rec, err := it.rr.Next()
		if err == nil {
			return rec, nil
		}
		if err != io.EOF {
			return nil, errors.WithMessagef(err, "shard %s", it.paths[it.shard])
		}

		if closeErr := it.closeShard(); closeErr != nil {
			return nil, closeErr
		}
	}
}

func (it *Iterator) openNextShard() error {
	next := it.shard + 1
	if next >= len(it.paths) {
		if !it.cfg.Loop {
			return io.EOF
		}
		next = 0
	}

	f, err := os.Open(it.paths[next])
	if err != nil {
		return errors.Wrapf(err, "failed to open shard %s", it.paths[next])
	}
	it.shard = next
	it.f = f
	it.rr = NewRecordReader(f)
	return nil
}

func (it *Iterator) closeShard() error {
	if it.f == nil {
		return nil
	}
	err := it.f.Close()
	it.f, it.rr = nil, nil
	if err != nil {
		return errors.Wrapf(err, "failed to close shard %s", it.paths[it.shard])
	}
	return nil
}

// Close releases the open shard, if any.
func (it *Iterator) Close() error {
	return it.closeShard()
}

// fit clips or right pads a sequence to length n.
func fit(seq []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, seq)
	for i := len(seq); i < n; i++ {
		out[i] = token.Pad
	}
	return out
}
