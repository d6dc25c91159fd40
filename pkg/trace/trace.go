// Package trace records the state transitions of a guest execution and
// commits to them with a Merkle root.
//
// Steps are hashed into fixed-size segments as they happen, so memory use is
// proportional to the number of segments rather than the number of steps.
// Segment digests are the leaves of the commitment tree.
package trace

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// DefaultSegmentSize is the number of steps per segment.
const DefaultSegmentSize = 1 << 14

// ErrSegmentSize is returned for a non-positive segment size.
var ErrSegmentSize = errors.New("trace: segment size must be positive")

// Digest is a SHA-256 digest.
type Digest [sha256.Size]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Digest) UnmarshalText(b []byte) error {
	parsed, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(len(d)) {
		return d, fmt.Errorf("trace: digest must be %d hex characters", hex.EncodedLen(len(d)))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("trace: digest: %w", err)
	}
	return d, nil
}

// EventKind classifies a step.
type EventKind uint8

const (
	EventCall EventKind = iota + 1
	EventInput
	EventCommit
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventInput:
		return "input"
	case EventCommit:
		return "commit"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Recorder accumulates steps. It is not safe for concurrent use; one
// recorder belongs to one execution.
type Recorder struct {
	segmentSize int
	steps       uint64
	inSegment   int
	segment     hash.Hash
	segments    []Digest
	buf         []byte
}

// NewRecorder creates a recorder with the given segment size.
func NewRecorder(segmentSize int) (*Recorder, error) {
	if segmentSize <= 0 {
		return nil, ErrSegmentSize
	}
	r := &Recorder{segmentSize: segmentSize, segment: sha256.New()}
	r.startSegment()
	return r, nil
}

func (r *Recorder) startSegment() {
	r.segment.Reset()
	r.segment.Write([]byte(segmentDomain))
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(len(r.segments)))
	r.segment.Write(idx[:])
	r.inSegment = 0
}

// Record appends one step: its kind, a function or channel index and its
// integer arguments.
func (r *Recorder) Record(kind EventKind, index uint32, args ...uint64) {
	r.buf = r.buf[:0]
	r.buf = append(r.buf, byte(kind))
	r.buf = binary.BigEndian.AppendUint32(r.buf, index)
	r.buf = binary.BigEndian.AppendUint32(r.buf, uint32(len(args)))
	for _, a := range args {
		r.buf = binary.BigEndian.AppendUint64(r.buf, a)
	}
	r.write(r.buf)
}

// RecordData appends one step carrying a byte payload, such as committed
// journal bytes. Only the payload's digest enters the segment.
func (r *Recorder) RecordData(kind EventKind, index uint32, data []byte) {
	sum := sha256.Sum256(data)
	r.buf = r.buf[:0]
	r.buf = append(r.buf, byte(kind))
	r.buf = binary.BigEndian.AppendUint32(r.buf, index)
	r.buf = binary.BigEndian.AppendUint64(r.buf, uint64(len(data)))
	r.buf = append(r.buf, sum[:]...)
	r.write(r.buf)
}

func (r *Recorder) write(step []byte) {
	r.segment.Write(step)
	r.steps++
	r.inSegment++
	if r.inSegment == r.segmentSize {
		r.closeSegment()
	}
}

func (r *Recorder) closeSegment() {
	var d Digest
	r.segment.Sum(d[:0])
	r.segments = append(r.segments, d)
	r.startSegment()
}

// Steps returns the number of steps recorded so far.
func (r *Recorder) Steps() uint64 { return r.steps }

// Finish closes the last partial segment and returns the trace. The
// recorder must not be used afterwards.
func (r *Recorder) Finish() *Trace {
	if r.inSegment > 0 {
		r.closeSegment()
	}
	return &Trace{
		Steps:       r.steps,
		SegmentSize: r.segmentSize,
		Segments:    r.segments,
		Root:        merkleRoot(r.segments),
	}
}

// Trace is the committed record of one execution.
type Trace struct {
	Steps       uint64   `json:"steps"`
	SegmentSize int      `json:"segment_size"`
	Segments    []Digest `json:"segments"`
	Root        Digest   `json:"root"`
}
