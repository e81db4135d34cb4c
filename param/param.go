// Package param implements the key=value parameter-string grammar used to
// construct streams, codecs, and flows by name through the registry. A
// parameter string is a newline-separated list of key=value lines; list
// values are comma-separated.
package param

import (
	"strconv"
	"strings"
)

// Keys understood by the core packages. Backends may define additional keys;
// unknown keys are ignored by consumers.
const (
	KeyPath            = "path"
	KeyOpenMode        = "open_mode"
	KeyMemType         = "mem_type"
	KeyMemSizePerTime  = "mem_size_pertime"
	KeyFPS             = "fps"
	KeyLoopTime        = "loop_time"
	KeyUseLibV4L2      = "use_libv4l2"
	KeyDevice          = "device"
	KeySubDevice       = "sub_device"
	KeyV4L2CapType     = "v4l2_cap_type"
	KeyInputDataType   = "input_data_type"
	KeyOutputDataType  = "output_data_type"
	KeyWidth           = "width"
	KeyHeight          = "height"
	KeyVirtualWidth    = "virtual_width"
	KeyVirtualHeight   = "virtual_height"
	KeyPixelFormat     = "pixel_format"
	KeyChannels        = "channels"
	KeySampleRate      = "sample_rate"
	KeySampleFormat    = "sample_format"
	KeyBitRate         = "bit_rate"
	KeyQuality         = "quality"
	KeyCodec           = "codec"
)

// Parse splits a parameter string into a key→value map. Lines are separated
// by '\n' and split on the first '='. Blank lines, lines without '=', and
// trailing whitespace are tolerated. Later duplicates win.
func Parse(s string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m[k] = strings.TrimSpace(v)
	}
	return m
}

// ParseList splits a comma-separated value list, dropping empty entries.
func ParseList(v string) []string {
	var out []string
	for _, e := range strings.Split(v, ",") {
		e = strings.TrimSpace(e)
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Intersects reports whether two comma-separated lists share at least one
// entry. Used for capability matching of data-type tags at wiring time.
func Intersects(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	la := ParseList(a)
	for _, e := range ParseList(b) {
		for _, f := range la {
			if e == f {
				return true
			}
		}
	}
	return false
}

// Int looks up key in m and parses it as a decimal integer. Returns def when
// the key is absent or empty; parse failures also fall back to def.
func Int(m map[string]string, key string, def int) int {
	v, ok := m[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool looks up key in m, treating "1", "true", "yes" as true. Absent or
// empty values return def.
func Bool(m map[string]string, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}

// Builder composes a parameter string line by line.
type Builder struct {
	sb strings.Builder
}

// Set appends one key=value line.
func (b *Builder) Set(key, value string) *Builder {
	b.sb.WriteString(key)
	b.sb.WriteByte('=')
	b.sb.WriteString(value)
	b.sb.WriteByte('\n')
	return b
}

// SetInt appends one key=value line with a decimal integer value.
func (b *Builder) SetInt(key string, value int) *Builder {
	return b.Set(key, strconv.Itoa(value))
}

// String returns the accumulated parameter string.
func (b *Builder) String() string { return b.sb.String() }
