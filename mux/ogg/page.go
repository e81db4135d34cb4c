// Package ogg implements a pure-Go Ogg container demuxer: page parsing,
// packet reassembly across pages, and the Vorbis header probe that yields
// the three-packet extra data downstream codecs need.
package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Page header type flags.
const (
	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

const (
	capturePattern = "OggS"
	headerSize     = 27
	maxSegments    = 255
)

// ErrBadPage marks a page that failed structural or CRC validation.
var ErrBadPage = errors.New("ogg: bad page")

// page is one parsed Ogg page: header fields plus the segment-delimited
// payload.
type page struct {
	headerType byte
	granule    int64
	serial     uint32
	sequence   uint32
	segments   []byte // lacing values
	payload    []byte
}

func (p *page) continued() bool { return p.headerType&flagContinued != 0 }
func (p *page) bos() bool       { return p.headerType&flagBOS != 0 }
func (p *page) eos() bool       { return p.headerType&flagEOS != 0 }

// readPage reads and validates the next page from r. It assumes the reader
// is positioned at a capture pattern; io.EOF is returned cleanly at end of
// stream.
func readPage(r io.Reader) (*page, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	if string(hdr[0:4]) != capturePattern {
		return nil, fmt.Errorf("%w: no capture pattern", ErrBadPage)
	}
	if hdr[4] != 0 {
		return nil, fmt.Errorf("%w: version %d", ErrBadPage, hdr[4])
	}
	nsegs := int(hdr[26])
	segs := make([]byte, nsegs)
	if _, err := io.ReadFull(r, segs); err != nil {
		return nil, fmt.Errorf("%w: truncated segment table", ErrBadPage)
	}
	payloadLen := 0
	for _, s := range segs {
		payloadLen += int(s)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated payload", ErrBadPage)
	}

	// CRC covers the whole page with the checksum field zeroed.
	stored := binary.LittleEndian.Uint32(hdr[22:26])
	full := make([]byte, 0, headerSize+nsegs+payloadLen)
	full = append(full, hdr...)
	full[22], full[23], full[24], full[25] = 0, 0, 0, 0
	full = append(full, segs...)
	full = append(full, payload...)
	if got := crc32Ogg(full); got != stored {
		return nil, fmt.Errorf("%w: CRC mismatch: computed 0x%08X, stored 0x%08X", ErrBadPage, got, stored)
	}

	return &page{
		headerType: hdr[5],
		granule:    int64(binary.LittleEndian.Uint64(hdr[6:14])),
		serial:     binary.LittleEndian.Uint32(hdr[14:18]),
		sequence:   binary.LittleEndian.Uint32(hdr[18:22]),
		segments:   segs,
		payload:    payload,
	}, nil
}

// writePage serialises a page with a correct CRC. The demuxer's tests use
// it to build streams.
func writePage(w io.Writer, headerType byte, granule int64, serial, sequence uint32, packets [][]byte) error {
	var segs []byte
	var payload []byte
	for _, pkt := range packets {
		n := len(pkt)
		for {
			if n >= maxSegments {
				segs = append(segs, maxSegments)
				n -= maxSegments
				continue
			}
			segs = append(segs, byte(n))
			break
		}
		payload = append(payload, pkt...)
	}
	if len(segs) > maxSegments {
		return fmt.Errorf("ogg: page overflow: %d lacing values", len(segs))
	}

	hdr := make([]byte, headerSize)
	copy(hdr, capturePattern)
	hdr[5] = headerType
	binary.LittleEndian.PutUint64(hdr[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(hdr[14:18], serial)
	binary.LittleEndian.PutUint32(hdr[18:22], sequence)
	hdr[26] = byte(len(segs))

	full := make([]byte, 0, len(hdr)+len(segs)+len(payload))
	full = append(full, hdr...)
	full = append(full, segs...)
	full = append(full, payload...)
	crc := crc32Ogg(full)
	binary.LittleEndian.PutUint32(full[22:26], crc)

	_, err := w.Write(full)
	return err
}

// packets splits the page payload along lacing values. complete reports, for
// each packet, whether it completes on this page; a trailing lacing value
// of 255 leaves the final packet open for continuation.
func (p *page) packets() (pkts [][]byte, complete []bool) {
	off := 0
	cur := 0
	for _, s := range p.segments {
		cur += int(s)
		if s < maxSegments {
			pkts = append(pkts, p.payload[off:off+cur])
			complete = append(complete, true)
			off += cur
			cur = 0
		}
	}
	if cur > 0 {
		pkts = append(pkts, p.payload[off:off+cur])
		complete = append(complete, false)
	}
	return pkts, complete
}
