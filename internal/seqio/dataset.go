package seqio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// datasetFile describes the shards of a prepared data directory.
const datasetFile = "dataset.json"

// ShardExt is the filename extension of framed record shards.
const ShardExt = ".tfrecord"

// Shard is one record file of a split.
type Shard struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// Split is a named subset of a dataset, usually "train" or "valid".
type Split struct {
	Shards []Shard `json:"shards"`
	Count  int     `json:"count"`
}

// Dataset is a prepared data directory: encoded sequences in framed shards
// plus a JSON description of what is where.
type Dataset struct {
	Name      string            `json:"name"`
	Tokenizer string            `json:"tokenizer"`
	CreatedAt time.Time         `json:"created_at"`
	Splits    map[string]*Split `json:"splits"`

	dir string
}

// NewDataset starts an empty dataset rooted at dir.
func NewDataset(dir, name, tokenizer string) *Dataset {
	return &Dataset{
		Name:      name,
		Tokenizer: tokenizer,
		CreatedAt: time.Now().UTC(),
		Splits:    make(map[string]*Split),
		dir:       dir,
	}
}

// LoadDataset reads the dataset description in dir.
func LoadDataset(dir string) (*Dataset, error) {
	path := filepath.Join(dir, datasetFile)
	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset description %s", path)
	}

	d := &Dataset{dir: dir}
	if err := json.Unmarshal(dat, d); err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset description %s", path)
	}
	if d.Splits == nil {
		d.Splits = make(map[string]*Split)
	}
	return d, nil
}

// Dir returns the dataset's root directory.
func (d *Dataset) Dir() string {
	return d.dir
}

// Count returns the number of sequences in a split, 0 for unknown splits.
func (d *Dataset) Count(split string) int {
	s, ok := d.Splits[split]
	if !ok {
		return 0
	}
	return s.Count
}

// SplitNames returns the split names in sorted order.
func (d *Dataset) SplitNames() []string {
	names := make([]string, 0, len(d.Splits))
	for name := range d.Splits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteSplit encodes sequences into framed shards of at most perShard records
// each and registers the split. Existing shards of the same split are
// replaced in the description.
func (d *Dataset) WriteSplit(split string, seqs [][]byte, perShard int) error {
	if perShard <= 0 {
		perShard = 10000
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create dataset dir %s", d.dir)
	}

	s := &Split{}
	for start := 0; start < len(seqs); start += perShard {
		end := start + perShard
		if end > len(seqs) {
			end = len(seqs)
		}

		name := fmt.Sprintf("%s-%03d%s", split, len(s.Shards), ShardExt)
		if err := writeShard(filepath.Join(d.dir, name), seqs[start:end]); err != nil {
			return err
		}
		s.Shards = append(s.Shards, Shard{File: name, Count: end - start})
		s.Count += end - start
	}

	d.Splits[split] = s
	return nil
}

func writeShard(path string, seqs [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create shard %s", path)
	}

	rw := NewRecordWriter(f)
	for _, seq := range seqs {
		if err := rw.Write(seq); err != nil {
			f.Close()
			return errors.WithMessagef(err, "shard %s", path)
		}
	}
	if err := rw.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to flush shard %s", path)
	}
	return f.Close()
}

// Save writes the dataset description, replacing it atomically.
func (d *Dataset) Save() error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create dataset dir %s", d.dir)
	}

	dat, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode dataset description")
	}

	path := filepath.Join(d.dir, datasetFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, dat, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}

func (d *Dataset) shardPaths(split string) []string {
	s, ok := d.Splits[split]
	if !ok {
		return nil
	}
	paths := make([]string, len(s.Shards))
	for i, sh := range s.Shards {
		paths[i] = filepath.Join(d.dir, sh.File)
	}
	return paths
}
