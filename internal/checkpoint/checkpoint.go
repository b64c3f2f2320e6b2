// Package checkpoint persists and restores training state. A checkpoint
// carries everything a resumed run needs: parameters, optimizer state, the
// model config it was built from, the tracking run to reattach to, and the
// sequence index to continue at. Files are gob encoded and zlib compressed.
package checkpoint

import (
	"compress/zlib"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/model"
	"github.com/mattfeng/progen/internal/optim"
)

const (
	filePrefix = "ckpt_"
	fileExt    = ".ckpt"

	// Version guards against loading checkpoints written by an incompatible
	// layout.
	Version = 1
)

// Checkpoint is a full training snapshot.
type Checkpoint struct {
	Version int
	SavedAt time.Time

	// NextSeqIndex is the dataset position training resumes from.
	NextSeqIndex int

	// RunID reattaches the tracker to the run this training belongs to.
	RunID string

	// ModelConfig is the raw TOML the model was built from.
	ModelConfig []byte

	Params     model.Params
	OptimState optim.State
}

// fileName encodes the save time and sequence index so lexicographic order is
// chronological order.
func fileName(savedAt time.Time, nextSeqIndex int) string {
	return fmt.Sprintf("%s%s_%012d%s",
		filePrefix, savedAt.UTC().Format("20060102T150405Z"), nextSeqIndex, fileExt)
}

// ParseName recovers the save time and next sequence index from a checkpoint
// filename, so listings do not have to decode whole checkpoints.
func ParseName(name string) (savedAt time.Time, nextSeqIndex int, err error) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return time.Time{}, 0, errors.Errorf("%s is not a checkpoint filename", name)
	}
	base := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)

	stamp, index, ok := strings.Cut(base, "_")
	if !ok {
		return time.Time{}, 0, errors.Errorf("%s is not a checkpoint filename", name)
	}
	if savedAt, err = time.Parse("20060102T150405Z", stamp); err != nil {
		return time.Time{}, 0, errors.Wrapf(err, "failed to parse checkpoint time in %s", name)
	}
	if nextSeqIndex, err = strconv.Atoi(index); err != nil {
		return time.Time{}, 0, errors.Wrapf(err, "failed to parse sequence index in %s", name)
	}
	return savedAt, nextSeqIndex, nil
}

// Save writes c into dir and prunes all but the keepN newest checkpoints.
// A keepN of 0 or less keeps everything. The final file appears atomically.
func Save(dir string, c *Checkpoint, keepN int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create checkpoint dir %s", dir)
	}

	c.Version = Version
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}

	path := filepath.Join(dir, fileName(c.SavedAt, c.NextSeqIndex))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", tmp)
	}

	zw := zlib.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "failed to compress checkpoint")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to move checkpoint into place")
	}

	if err := Prune(dir, keepN); err != nil {
		return "", err
	}
	return path, nil
}

// Prune removes the oldest checkpoints in dir until keepN remain. A keepN of
// 0 or less keeps everything.
func Prune(dir string, keepN int) error {
	if keepN <= 0 {
		return nil
	}
	names, err := List(dir)
	if err != nil {
		return err
	}
	for len(names) > keepN {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil {
			return errors.Wrapf(err, "failed to prune checkpoint %s", names[0])
		}
		names = names[1:]
	}
	return nil
}

// List returns the checkpoint filenames in dir, oldest first. A missing dir
// lists as empty.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list checkpoints in %s", dir)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one checkpoint file.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %s", path)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decompress checkpoint %s", path)
	}
	defer zr.Close()

	var c Checkpoint
	if err := gob.NewDecoder(zr).Decode(&c); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	if c.Version != Version {
		return nil, errors.Errorf("checkpoint %s has version %d, want %d", path, c.Version, Version)
	}
	return &c, nil
}

// Last loads the newest checkpoint in dir. It returns nil without an error
// when there is none.
func Last(dir string) (*Checkpoint, string, error) {
	names, err := List(dir)
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", nil
	}

	path := filepath.Join(dir, names[len(names)-1])
	c, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return c, path, nil
}

// Reset removes every checkpoint in dir, leaving other files alone.
func Reset(dir string) error {
	names, err := List(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return errors.Wrapf(err, "failed to remove checkpoint %s", name)
		}
	}
	return nil
}
