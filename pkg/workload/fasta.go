package workload

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseFASTA reads up to max records (max <= 0 means all). Records with an
// empty name or no residues are skipped.
func ParseFASTA(r io.Reader, max int) ([]HmmerSequence, error) {
	var (
		seqs []HmmerSequence
		name string
		data strings.Builder
	)
	flush := func() {
		if name != "" && data.Len() > 0 && (max <= 0 || len(seqs) < max) {
			seqs = append(seqs, HmmerSequence{Name: name, Data: data.String()})
		}
		data.Reset()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, ">") {
			flush()
			if max > 0 && len(seqs) >= max {
				return seqs, nil
			}
			name = strings.TrimSpace(line[1:])
			continue
		}
		data.WriteString(line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}
	flush()
	return seqs, nil
}
