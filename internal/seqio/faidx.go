package seqio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// IndexRecord is one line of a .fai index: where a sequence's residues live
// inside the FASTA file.
type IndexRecord struct {
	Name string

	// Length is the number of residues.
	Length int64

	// Offset is the byte position of the first residue.
	Offset int64

	// LineBases is the number of residues per full line, LineWidth the number
	// of bytes including the line terminator.
	LineBases int64
	LineWidth int64
}

// BuildIndex scans a FASTA file and returns its index records. Sequence lines
// must be uniform in length except for the last line of each record, the same
// rule samtools faidx enforces.
func BuildIndex(path string) ([]IndexRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	var (
		records []IndexRecord
		cur     *IndexRecord
		offset  int64
		short   bool // a short line was seen, only a header may follow
		lineNum int
	)

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadString('\n')
		if line != "" {
			lineNum++
			lineLen := int64(len(line))
			body := strings.TrimRight(line, "\r\n")

			switch {
			case strings.HasPrefix(body, ">"):
				header := strings.TrimSpace(body[1:])
				name := header
				if j := strings.IndexAny(header, " \t"); j >= 0 {
					name = header[:j]
				}
				if name == "" {
					return nil, errors.Errorf("%s:%d: header without a name", path, lineNum)
				}
				records = append(records, IndexRecord{Name: name, Offset: offset + lineLen})
				cur = &records[len(records)-1]
				short = false

			case body == "":
				// a blank line ends the record's residues
				if cur != nil && cur.Length > 0 {
					short = true
				}

			default:
				if cur == nil {
					return nil, errors.Errorf("%s:%d: sequence data before first header", path, lineNum)
				}
				if short {
					return nil, errors.Errorf("%s:%d: different line lengths within %q", path, lineNum, cur.Name)
				}
				n := int64(len(body))
				if cur.LineBases == 0 {
					cur.LineBases = n
					cur.LineWidth = lineLen
				} else if n > cur.LineBases {
					return nil, errors.Errorf("%s:%d: different line lengths within %q", path, lineNum, cur.Name)
				} else if n < cur.LineBases {
					short = true
				}
				cur.Length += n
			}

			offset += lineLen
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, errors.Wrapf(readErr, "failed to scan %s", path)
		}
	}

	if len(records) == 0 {
		return nil, errors.Errorf("no sequences found in %s", path)
	}
	return records, nil
}

// WriteIndex writes index records in the tab separated .fai layout.
func WriteIndex(path string, records []IndexRecord) error {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s\t%d\t%d\t%d\t%d\n", r.Name, r.Length, r.Offset, r.LineBases, r.LineWidth)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, "failed to write index %s", path)
	}
	return nil
}

// LoadIndex reads a .fai index file.
func LoadIndex(path string) ([]IndexRecord, error) {
	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read index %s", path)
	}

	var records []IndexRecord
	for i, line := range strings.Split(string(dat), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 5 {
			return nil, errors.Errorf("%s:%d: want 5 columns, got %d", path, i+1, len(cols))
		}
		rec := IndexRecord{Name: cols[0]}
		for j, dst := range []*int64{&rec.Length, &rec.Offset, &rec.LineBases, &rec.LineWidth} {
			n, err := strconv.ParseInt(cols[j+1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: column %d", path, i+1, j+2)
			}
			*dst = n
		}
		records = append(records, rec)
	}
	return records, nil
}

// Faidx is random access into a FASTA file through its .fai index.
type Faidx struct {
	f       *os.File
	records []IndexRecord
	byName  map[string]int
}

// OpenFaidx opens a FASTA file for random access. The index at path+".fai" is
// loaded when present and built and saved otherwise.
func OpenFaidx(path string) (*Faidx, error) {
	faiPath := path + ".fai"

	records, err := LoadIndex(faiPath)
	if os.IsNotExist(errors.Cause(err)) {
		if records, err = BuildIndex(path); err != nil {
			return nil, err
		}
		if err = WriteIndex(faiPath, records); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	x := &Faidx{f: f, records: records, byName: make(map[string]int, len(records))}
	for i, r := range records {
		x.byName[r.Name] = i
	}
	return x, nil
}

// Names returns the indexed sequence names in file order.
func (x *Faidx) Names() []string {
	names := make([]string, len(x.records))
	for i, r := range x.records {
		names[i] = r.Name
	}
	return names
}

// Record returns the index record for name.
func (x *Faidx) Record(name string) (IndexRecord, bool) {
	i, ok := x.byName[name]
	if !ok {
		return IndexRecord{}, false
	}
	return x.records[i], true
}

// Length returns the residue count of the named sequence.
func (x *Faidx) Length(name string) (int64, bool) {
	rec, ok := x.Record(name)
	return rec.Length, ok
}

// Fetch reads the half open residue range [start, end) of the named sequence.
// The range is clamped to the sequence bounds.
func (x *Faidx) Fetch(name string, start, end int64) (string, error) {
	i, ok := x.byName[name]
	if !ok {
		return "", errors.Errorf("no sequence %q in index", name)
	}
	rec := x.records[i]

	if start < 0 {
		start = 0
	}
	if end > rec.Length {
		end = rec.Length
	}
	if start >= end {
		return "", nil
	}

	seek := func(pos int64) int64 {
		return rec.Offset + pos/rec.LineBases*rec.LineWidth + pos%rec.LineBases
	}
	from := seek(start)
	to := seek(end-1) + 1

	buf := make([]byte, to-from)
	if _, err := x.f.ReadAt(buf, from); err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s:%d-%d", name, start, end)
	}

	out := make([]byte, 0, end-start)
	for _, c := range buf {
		if c != '\n' && c != '\r' {
			out = append(out, c)
		}
	}
	return string(out), nil
}

// Sequence reads the whole named sequence.
func (x *Faidx) Sequence(name string) (string, error) {
	rec, ok := x.Record(name)
	if !ok {
		return "", errors.Errorf("no sequence %q in index", name)
	}
	return x.Fetch(name, 0, rec.Length)
}

// TotalResidues sums the indexed sequence lengths.
func (x *Faidx) TotalResidues() int64 {
	var total int64
	for _, r := range x.records {
		total += r.Length
	}
	return total
}

// LengthPercentiles reports sequence length percentiles, for data summaries.
func (x *Faidx) LengthPercentiles(ps ...float64) []int64 {
	lengths := make([]int64, len(x.records))
	for i, r := range x.records {
		lengths[i] = r.Length
	}
	sort.Slice(lengths, func(i, j int) bool { return lengths[i] < lengths[j] })

	out := make([]int64, len(ps))
	for i, p := range ps {
		if len(lengths) == 0 {
			continue
		}
		j := int(p * float64(len(lengths)-1))
		out[i] = lengths[j]
	}
	return out
}

func (x *Faidx) Close() error {
	return x.f.Close()
}
