package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/registry"
	"github.com/zsiec/mediaflow/stream"
)

// Vorbis header packet types.
const (
	vorbisIdent   = 1
	vorbisComment = 3
	vorbisSetup   = 5
)

// Demuxer reads a Vorbis-in-Ogg stream. Init consumes the three header
// packets into extra data; Read yields one audio packet per call with the
// page granule position as its timestamp.
type Demuxer struct {
	log    *slog.Logger
	src    stream.Stream
	serial uint32
	haveSN bool

	extraData []byte
	comments  []string
	cfg       media.MediaConfig

	partial []byte // packet continued across pages
	pending []*media.Buffer
	eof     bool
}

// NewDemuxer creates an unprobed demuxer. If log is nil, slog.Default()
// is used.
func NewDemuxer(log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{log: log.With("component", "ogg-demuxer")}
}

// Init probes the stream: the first logical bitstream must be Vorbis. The
// three header packets are packed into the demuxer's extra data and the
// identification header populates the audio configuration.
func (d *Demuxer) Init(s stream.Stream) (*media.MediaConfig, error) {
	d.src = s

	var headers [][]byte
	for len(headers) < 3 {
		if d.eof {
			return nil, fmt.Errorf("ogg: stream ended with %d of 3 header packets", len(headers))
		}
		pkts, err := d.nextPackets()
		if err != nil {
			return nil, fmt.Errorf("ogg: probing headers: %w", err)
		}
		for _, pkt := range pkts {
			if len(headers) < 3 {
				headers = append(headers, pkt)
				continue
			}
			// Audio packets may share the setup header's page.
			d.pushAudio(pkt, 0, false)
		}
	}

	if err := d.parseIdent(headers[0]); err != nil {
		return nil, err
	}
	if err := d.parseComments(headers[1]); err != nil {
		return nil, err
	}
	if len(headers[2]) == 0 || headers[2][0] != vorbisSetup {
		return nil, fmt.Errorf("ogg: third header is not a setup packet")
	}
	d.extraData = PackPackets(headers)

	d.log.Info("vorbis stream probed",
		"channels", d.cfg.Audio.Sample.Channels,
		"sampleRate", d.cfg.Audio.Sample.SampleRate,
		"comments", len(d.comments))
	return &d.cfg, nil
}

// ExtraData returns the packed header packets captured by Init.
func (d *Demuxer) ExtraData() []byte { return d.extraData }

// Comments returns the user comments from the Vorbis comment header.
func (d *Demuxer) Comments() []string { return d.comments }

// IncludesDecoder reports false: the demuxer emits compressed Vorbis
// packets and a downstream decoder is required.
func (d *Demuxer) IncludesDecoder() bool { return false }

// Read returns the next audio packet. The final packet of the stream
// carries eof=true; after that Read keeps returning an empty EOF buffer.
func (d *Demuxer) Read() (*media.Buffer, error) {
	for len(d.pending) == 0 {
		if d.eof {
			b := media.WrapBytes(nil)
			b.SetType(media.TypeAudio)
			b.SetEOF(true)
			return b, nil
		}
		if _, err := d.nextPackets(); err != nil {
			return nil, err
		}
	}
	buf := d.pending[0]
	d.pending = d.pending[1:]
	return buf, nil
}

// nextPackets reads one page of the probed bitstream and returns the
// packets completing on it, also queueing audio packets onto pending once
// probing is done. Pages from other logical bitstreams are skipped; pages
// with bad CRCs are skipped with a diagnostic.
func (d *Demuxer) nextPackets() ([][]byte, error) {
	for {
		pg, err := readPage(d.src)
		if errors.Is(err, io.EOF) {
			d.eof = true
			if len(d.pending) > 0 {
				d.pending[len(d.pending)-1].SetEOF(true)
			}
			return nil, nil
		}
		if errors.Is(err, ErrBadPage) {
			d.log.Warn("skipping page", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}

		if !d.haveSN {
			if !pg.bos() {
				return nil, fmt.Errorf("ogg: stream does not start with a BOS page")
			}
			d.serial = pg.serial
			d.haveSN = true
		} else if pg.serial != d.serial {
			continue
		}

		pkts, complete := pg.packets()
		var out [][]byte
		for i, pkt := range pkts {
			if i == 0 && pg.continued() {
				d.partial = append(d.partial, pkt...)
				if !complete[i] {
					continue
				}
				pkt = d.partial
				d.partial = nil
			} else if !complete[i] {
				d.partial = append([]byte(nil), pkt...)
				continue
			}
			out = append(out, pkt)
		}

		if d.extraData != nil {
			last := len(out) - 1
			for i, pkt := range out {
				d.pushAudio(pkt, pg.granule, pg.eos() && i == last)
			}
		}
		if pg.eos() {
			d.eof = true
		}
		if len(out) > 0 || d.eof {
			return out, nil
		}
	}
}

// pushAudio wraps one compressed packet in a buffer that borrows the packet
// slice directly; no related holder is attached.
func (d *Demuxer) pushAudio(pkt []byte, granule int64, eos bool) {
	b := media.WrapBytes(pkt)
	b.SetValidSize(len(pkt))
	b.SetType(media.TypeAudio)
	b.SetTimestamp(granule)
	b.SetEOF(eos)
	d.pending = append(d.pending, b)
}

// parseIdent validates the identification header and fills the audio
// configuration.
func (d *Demuxer) parseIdent(pkt []byte) error {
	if len(pkt) < 30 || pkt[0] != vorbisIdent || string(pkt[1:7]) != "vorbis" {
		return fmt.Errorf("ogg: first packet is not a vorbis identification header")
	}
	channels := int(pkt[11])
	rate := int(binary.LittleEndian.Uint32(pkt[12:16]))
	if channels == 0 || rate == 0 {
		return fmt.Errorf("ogg: identification header with zero channels or rate")
	}
	d.cfg = media.MediaConfig{
		Kind: media.ConfigAudio,
		Audio: media.AudioConfig{
			Sample: media.SampleInfo{
				Format:     media.SampleFmtS16,
				Channels:   channels,
				SampleRate: rate,
			},
			Codec: "vorbis",
		},
	}
	return nil
}

// parseComments extracts the user comments from the comment header.
func (d *Demuxer) parseComments(pkt []byte) error {
	if len(pkt) < 7 || pkt[0] != vorbisComment || string(pkt[1:7]) != "vorbis" {
		return fmt.Errorf("ogg: second packet is not a vorbis comment header")
	}
	p := pkt[7:]
	if len(p) < 4 {
		return fmt.Errorf("ogg: truncated comment header")
	}
	vendorLen := int(binary.LittleEndian.Uint32(p))
	p = p[4:]
	if vendorLen > len(p) {
		return fmt.Errorf("ogg: truncated vendor string")
	}
	p = p[vendorLen:]
	if len(p) < 4 {
		return fmt.Errorf("ogg: truncated comment count")
	}
	count := int(binary.LittleEndian.Uint32(p))
	p = p[4:]
	for i := 0; i < count; i++ {
		if len(p) < 4 {
			return fmt.Errorf("ogg: truncated comment %d", i)
		}
		n := int(binary.LittleEndian.Uint32(p))
		p = p[4:]
		if n > len(p) {
			return fmt.Errorf("ogg: truncated comment %d body", i)
		}
		d.comments = append(d.comments, string(p[:n]))
		p = p[n:]
	}
	return nil
}

// RegisterWith adds the Ogg demuxer factory to r.
func RegisterWith(r *registry.Registry) {
	r.Register(registry.KindDemuxer, "ogg", registry.Factory{
		New: func(params map[string]string) (any, error) {
			return NewDemuxer(nil), nil
		},
		Match: registry.TagMatcher("", media.AudioVorbis),
	})
}
