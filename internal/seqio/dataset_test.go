package seqio

import (
	"bytes"
	"io"
	"testing"

	"github.com/mattfeng/progen/internal/token"
)

// seven sequences of increasing length, seq i starts with byte 'A'+i
func datasetFixture(t *testing.T) *Dataset {
	t.Helper()

	var seqs [][]byte
	for i := 0; i < 7; i++ {
		seqs = append(seqs, bytes.Repeat([]byte{byte('A' + i)}, i+1))
	}

	d := NewDataset(t.TempDir(), "fixture", "byte")
	if err := d.WriteSplit("train", seqs, 3); err != nil {
		t.Fatal(err)
	}
	if err := d.Save(); err != nil {
		t.Fatal(err)
	}
	return d
}

func Test_WriteSplit(t *testing.T) {
	d := datasetFixture(t)

	loaded, err := LoadDataset(d.Dir())
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Count("train") != 7 {
		t.Errorf("Count(train) = %d, want 7", loaded.Count("train"))
	}
	if loaded.Count("valid") != 0 {
		t.Errorf("Count(valid) = %d, want 0", loaded.Count("valid"))
	}

	split := loaded.Splits["train"]
	if len(split.Shards) != 3 {
		t.Fatalf("shards = %d, want 3", len(split.Shards))
	}
	for i, want := range []int{3, 3, 1} {
		if split.Shards[i].Count != want {
			t.Errorf("shard %d count = %d, want %d", i, split.Shards[i].Count, want)
		}
	}
}

func Test_Iterator_batches(t *testing.T) {
	d := datasetFixture(t)

	it, err := d.Iterator("train", IteratorConfig{SeqLen: 4, BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	// 7 sequences make three full batches, the leftover is dropped
	var rows [][]byte
	for i := 0; i < 3; i++ {
		batch, err := it.Next()
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		if len(batch) != 2 {
			t.Fatalf("batch %d size = %d, want 2", i, len(batch))
		}
		rows = append(rows, batch...)
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("Next() after batches = %v, want io.EOF", err)
	}
	if it.Consumed() != 6 {
		t.Errorf("Consumed() = %d, want 6", it.Consumed())
	}

	// row 0 is "A" padded, row 5 is "FFFFFF" clipped
	if want := []byte{'A', token.Pad, token.Pad, token.Pad}; !bytes.Equal(rows[0], want) {
		t.Errorf("row 0 = %v, want %v", rows[0], want)
	}
	if want := []byte("FFFF"); !bytes.Equal(rows[5], want) {
		t.Errorf("row 5 = %v, want %v", rows[5], want)
	}
	for i, row := range rows {
		if len(row) != 4 {
			t.Errorf("row %d length = %d, want 4", i, len(row))
		}
		if row[0] != byte('A'+i) {
			t.Errorf("row %d starts with %q, want %q", i, row[0], byte('A'+i))
		}
	}
}

func Test_Iterator_skip(t *testing.T) {
	d := datasetFixture(t)

	it, err := d.Iterator("train", IteratorConfig{SeqLen: 4, BatchSize: 2, Skip: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	batch, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if batch[0][0] != 'C' {
		t.Errorf("first row after skip starts with %q, want 'C'", batch[0][0])
	}
}

func Test_Iterator_loop(t *testing.T) {
	d := datasetFixture(t)

	it, err := d.Iterator("train", IteratorConfig{SeqLen: 4, BatchSize: 2, Loop: true})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	firsts := make([]byte, 0, 20)
	for i := 0; i < 10; i++ {
		batch, err := it.Next()
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		for _, row := range batch {
			firsts = append(firsts, row[0])
		}
	}

	// the split wraps mid batch, the leftover seventh sequence is kept
	want := []byte("ABCDEFGABCDEFGABCDEF")
	if !bytes.Equal(firsts, want) {
		t.Errorf("looped rows = %q, want %q", firsts, want)
	}
	if it.Consumed() != 20 {
		t.Errorf("Consumed() = %d, want 20", it.Consumed())
	}
}

func Test_Iterator_skipWrapsWhenLooping(t *testing.T) {
	d := datasetFixture(t)

	// skip 9 of 7 wraps to skip 2
	it, err := d.Iterator("train", IteratorConfig{SeqLen: 4, BatchSize: 2, Skip: 9, Loop: true})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	batch, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if batch[0][0] != 'C' {
		t.Errorf("first row after wrapped skip starts with %q, want 'C'", batch[0][0])
	}
}

func Test_Iterator_unknownSplit(t *testing.T) {
	d := datasetFixture(t)
	if _, err := d.Iterator("valid", IteratorConfig{SeqLen: 4, BatchSize: 2}); err == nil {
		t.Error("Iterator(valid) = nil error for a missing split")
	}
}
