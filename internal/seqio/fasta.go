// Package seqio reads, indexes and shards protein sequence data. FASTA files
// are the input format, fixed-width framed records the training format.
package seqio

import (
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Record is a single named sequence from a FASTA file.
type Record struct {
	// ID is the first word of the header line.
	ID string

	// Description is the remainder of the header line, often a source
	// organism or annotation.
	Description string

	Seq string
}

// residues only, headers and sequence lines may carry digits and whitespace
var unwantedChars = regexp.MustCompile(`[^A-Za-z*]`)

// ReadFasta parses a multi-FASTA file into records. Sequences are uppercased
// and stripped of everything that is not a residue letter or stop symbol.
func ReadFasta(path string) ([]Record, error) {
	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	records, err := parseFasta(string(dat))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse %s", path)
	}
	return records, nil
}

func parseFasta(contents string) ([]Record, error) {
	lines := strings.Split(contents, "\n")

	// find the headers
	var headerIndices []int
	var ids, descriptions []string
	for i, line := range lines {
		if strings.HasPrefix(line, ">") {
			headerIndices = append(headerIndices, i)
			header := strings.TrimSpace(line[1:])
			if j := strings.IndexAny(header, " \t"); j >= 0 {
				ids = append(ids, header[:j])
				descriptions = append(descriptions, strings.TrimSpace(header[j+1:]))
			} else {
				ids = append(ids, header)
				descriptions = append(descriptions, "")
			}
		}
	}

	// accumulate the sequences from between the headers
	var records []Record
	for i, headerIndex := range headerIndices {
		nextLine := len(lines)
		if i < len(headerIndices)-1 {
			nextLine = headerIndices[i+1]
		}
		seqJoined := strings.Join(lines[headerIndex+1:nextLine], "")
		seq := strings.ToUpper(unwantedChars.ReplaceAllString(seqJoined, ""))

		records = append(records, Record{
			ID:          ids[i],
			Description: descriptions[i],
			Seq:         seq,
		})
	}

	if len(records) < 1 {
		return nil, errors.New("no sequences found")
	}
	return records, nil
}

// WriteFasta writes records to path with sequence lines wrapped at width
// residues. A width of 0 selects 80.
func WriteFasta(path string, records []Record, width int) error {
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for _, r := range records {
		b.WriteByte('>')
		b.WriteString(r.ID)
		if r.Description != "" {
			b.WriteByte(' ')
			b.WriteString(r.Description)
		}
		b.WriteByte('\n')
		for s := 0; s < len(r.Seq); s += width {
			e := s + width
			if e > len(r.Seq) {
				e = len(r.Seq)
			}
			b.WriteString(r.Seq[s:e])
			b.WriteByte('\n')
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
