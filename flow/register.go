package flow

import "github.com/zsiec/mediaflow/registry"

// RegisterWith adds the built-in flow factories to r. Stream backends must
// be registered as well for the file and demux flows to construct.
func RegisterWith(r *registry.Registry) {
	registerFileRead(r)
	registerFileWrite(r)
	registerEncoderFlow(r)
	registerDemuxFlow(r)
}
