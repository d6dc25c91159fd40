package workload

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"sort"
)

// aminoAcids is the residue alphabet. Unknown residues score as 'A'.
const aminoAcids = "ACDEFGHIKLMNPQRSTVWY"

// Scores are log2 probabilities in fixed point with scoreFrac fractional
// bits. Integer arithmetic keeps native and guest results identical.
const scoreFrac = 16

// MaxHMMLength bounds the model size accepted by Hmmer.
const MaxHMMLength = 1 << 14

const negInf = -(int64(1) << 60)

// Background amino acid frequencies in parts per million, in aminoAcids order.
var aaFreqPPM = [len(aminoAcids)]uint64{
	74000, 25000, 54000, 62000, 42000, 73000, 23000, 52000, 24000, 58000,
	99000, 45000, 39000, 57000, 73000, 73000, 52000, 13000, 34000, 68000,
}

// HmmerSequence is one named protein sequence.
type HmmerSequence struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// HmmerInput is the Hmmer workload input.
type HmmerInput struct {
	Sequences []HmmerSequence `json:"sequences"`
	HMMLength int             `json:"hmm_length"`
}

// HmmerResult scores one sequence against the model. Score is in bits.
type HmmerResult struct {
	SequenceName   string  `json:"sequence_name"`
	Score          float64 `json:"score"`
	AlignmentStart int     `json:"alignment_start"`
	AlignmentEnd   int     `json:"alignment_end"`
}

// HmmerOutput is the Hmmer workload output.
type HmmerOutput struct {
	Results        []HmmerResult `json:"results"`
	TotalSequences int           `json:"total_sequences"`
}

// Hmmer searches sequences against a synthetic profile HMM with match,
// insert and delete states, scoring each by Viterbi. Results are sorted by
// score, best first.
type Hmmer struct{}

func (Hmmer) Name() string { return "hmmer" }

func (Hmmer) Run(input []byte) ([]byte, error) {
	var in HmmerInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("hmmer: decode input: %v", err)
	}
	if in.HMMLength < 2 || in.HMMLength > MaxHMMLength {
		return nil, invalid("hmmer: hmm_length %d outside [2, %d]", in.HMMLength, MaxHMMLength)
	}

	model := newProfile(in.HMMLength)
	type scored struct {
		HmmerResult
		raw int64
	}
	results := make([]scored, 0, len(in.Sequences))
	for _, seq := range in.Sequences {
		s := model.viterbi(seq.Data)
		results = append(results, scored{
			HmmerResult: HmmerResult{
				SequenceName: seq.Name,
				Score:        float64(s) / (1 << scoreFrac),
				AlignmentEnd: len(seq.Data),
			},
			raw: s,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].raw > results[j].raw })

	out := HmmerOutput{Results: make([]HmmerResult, len(results)), TotalSequences: len(in.Sequences)}
	for i, r := range results {
		out.Results[i] = r.HmmerResult
	}
	return json.Marshal(out)
}

// Generate builds size synthetic sequences with a 50-state model.
func (Hmmer) Generate(size int) ([]byte, error) {
	if size < 0 {
		return nil, invalid("negative size %d", size)
	}
	return json.Marshal(HmmerInput{Sequences: SyntheticSequences(size), HMMLength: 50})
}

// SyntheticSequences returns n deterministic sequences of 50 to 249
// residues.
func SyntheticSequences(n int) []HmmerSequence {
	seqs := make([]HmmerSequence, n)
	for i := range seqs {
		data := make([]byte, 50+i%200)
		for j := range data {
			data[j] = aminoAcids[(i*17+j*31)%len(aminoAcids)]
		}
		seqs[i] = HmmerSequence{Name: fmt.Sprintf("synthetic_seq_%d", i), Data: string(data)}
	}
	return seqs
}

// profile holds log2 scores. Transitions are position independent.
type profile struct {
	length int
	match  [][len(aminoAcids)]int64
	insert int64
	mm, mi int64
	md, im int64
	ii, dm int64
	dd     int64
}

func newProfile(length int) *profile {
	p := &profile{
		length: length,
		match:  make([][len(aminoAcids)]int64, length),
		insert: logRatio(1, 20),
		mm:     logRatio(8, 10),
		mi:     logRatio(1, 10),
		md:     logRatio(1, 10),
		im:     logRatio(1, 2),
		ii:     logRatio(1, 2),
		dm:     logRatio(1, 2),
		dd:     logRatio(1, 2),
	}
	// Match emission at position i is freq * (1 + 0.2*i/length)
	// = freq * (5*length + i) / (5*length).
	den := uint64(1_000_000) * uint64(5*length)
	for i := range p.match {
		for a, f := range aaFreqPPM {
			p.match[i][a] = logRatio(f*uint64(5*length+i), den)
		}
	}
	return p
}

func residueIndex(c byte) int {
	if 'a' <= c && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < len(aminoAcids); i++ {
		if aminoAcids[i] == c {
			return i
		}
	}
	return 0
}

func plus(a, b int64) int64 {
	if a == negInf {
		return negInf
	}
	return a + b
}

// viterbi returns the best score ending in a match state. It keeps two rows
// of (match, insert, delete) per model position.
func (p *profile) viterbi(seq string) int64 {
	n := p.length
	prev := make([]int64, 3*n)
	cur := make([]int64, 3*n)
	for i := range prev {
		prev[i] = negInf
	}
	prev[0] = 0

	for k := 0; k < len(seq); k++ {
		aa := residueIndex(seq[k])
		for i := range cur {
			cur[i] = negInf
		}
		for j := 0; j < n; j++ {
			m, ins, del := 3*j, 3*j+1, 3*j+2
			if j > 0 {
				pm, pi, pd := 3*(j-1), 3*(j-1)+1, 3*(j-1)+2
				best := max(plus(prev[pm], p.mm), plus(prev[pi], p.im), plus(prev[pd], p.dm))
				cur[m] = plus(best, p.match[j][aa])
			}
			cur[ins] = plus(max(plus(prev[m], p.mi), plus(prev[ins], p.ii)), p.insert)
			if j > 0 {
				cur[del] = max(plus(cur[3*(j-1)], p.md), plus(cur[3*(j-1)+2], p.dd))
			}
		}
		prev, cur = cur, prev
	}

	best := int64(negInf)
	for j := 0; j < n; j++ {
		best = max(best, prev[3*j])
	}
	return best
}

// logRatio returns log2(num/den) in fixed point.
func logRatio(num, den uint64) int64 {
	return log2Fixed(num) - log2Fixed(den)
}

// log2Fixed returns log2(x) with scoreFrac fractional bits, x > 0, using
// repeated squaring of the mantissa in Q1.30.
func log2Fixed(x uint64) int64 {
	const q = 30
	n := bits.Len64(x) - 1
	var y uint64
	if n >= q {
		y = x >> (n - q)
	} else {
		y = x << (q - n)
	}
	result := int64(n) << scoreFrac
	for b := int64(1) << (scoreFrac - 1); b > 0; b >>= 1 {
		y = (y * y) >> q
		if y >= 2<<q {
			y >>= 1
			result |= b
		}
	}
	return result
}
