package ogg

import (
	"encoding/binary"
	"fmt"
)

// PackPackets concatenates packets into one blob, each prefixed with a
// big-endian uint32 length. Codec extra data travels in this form: the
// three Vorbis headers pack into a single buffer a muxer or decoder later
// recovers with UnpackPackets.
func PackPackets(packets [][]byte) []byte {
	size := 0
	for _, p := range packets {
		size += 4 + len(p)
	}
	out := make([]byte, 0, size)
	var l [4]byte
	for _, p := range packets {
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		out = append(out, l[:]...)
		out = append(out, p...)
	}
	return out
}

// UnpackPackets splits a PackPackets blob back into packets.
func UnpackPackets(data []byte) ([][]byte, error) {
	var packets [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("ogg: truncated packet length prefix")
		}
		n := int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		if n > len(data) {
			return nil, fmt.Errorf("ogg: packet length %d exceeds remaining %d", n, len(data))
		}
		packets = append(packets, data[:n])
		data = data[n:]
	}
	return packets, nil
}
