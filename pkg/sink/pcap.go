package sink

import (
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// Snaplen is the snapshot length declared in the pcap global header:
// the maximum value representable in the format's 16-bit length field.
const Snaplen = math.MaxUint16

// Pcap writes captured payloads as pcap packet records. The global header
// (version 2.4, raw link type, microsecond timestamps) is written exactly
// once, when the sink is constructed. Record timestamps are relative to
// construction time. Safe for concurrent use; records never interleave.
type Pcap struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	start  time.Time
}

// New opens a pcap sink at path, created if absent and always appended to.
// An empty path means standard output.
func New(path string) (*Pcap, error) {
	if path == "" {
		return NewWriter(os.Stdout)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open sink %s", path)
	}
	p, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// NewWriter wraps an arbitrary writer as a pcap sink and writes the
// global header to it immediately.
func NewWriter(w io.Writer) (*Pcap, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(Snaplen, layers.LinkTypeRaw); err != nil {
		return nil, errors.Wrap(err, "write pcap header")
	}
	return &Pcap{w: pw, start: time.Now()}, nil
}

// WriteMessage appends one record carrying payload, timestamped with the
// elapsed time since the sink was created. Payloads longer than Snaplen
// fail the write; the record is not emitted.
func (p *Pcap) WriteMessage(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0).UTC().Add(time.Since(p.start)),
		CaptureLength: len(payload),
		Length:        len(payload),
	}
	return p.w.WritePacket(ci, payload)
}

// Close closes the underlying file, if any. Closing a stdout- or
// writer-backed sink is a no-op.
func (p *Pcap) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
