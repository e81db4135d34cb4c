//go:build linux

package stream

import (
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
)

// ioctl request encoding, per include/uapi/asm-generic/ioctl.h: the lower
// 16 bits carry the command, the next 14 the argument size, the top 2 the
// access mode.
const (
	iocOpWrite = 1
	iocOpRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	iocTypePos = iocNumberBits
	iocSizePos = iocTypePos + iocTypeBits
	iocOpPos   = iocSizePos + iocSizeBits
)

func iocEnc(op, typ, nr, size uintptr) uintptr {
	return op<<iocOpPos | typ<<iocTypePos | nr | size<<iocSizePos
}

// V4L2 request codes used by the capture path.
var (
	vidiocQueryCap  = iocEnc(iocOpRead, 'V', 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocSetFormat = iocEnc(iocOpRead|iocOpWrite, 'V', 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = iocEnc(iocOpRead|iocOpWrite, 'V', 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = iocEnc(iocOpRead|iocOpWrite, 'V', 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iocEnc(iocOpRead|iocOpWrite, 'V', 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iocEnc(iocOpRead|iocOpWrite, 'V', 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iocEnc(iocOpWrite, 'V', 18, unsafe.Sizeof(uint32(0)))
	vidiocStreamOff = iocEnc(iocOpWrite, 'V', 19, unsafe.Sizeof(uint32(0)))
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2FieldAny            = 0

	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
)

// Struct layouts match include/uapi/linux/videodev2.h on 64-bit targets;
// padding follows the kernel ABI, not Go's preferences.

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	ColorSpace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format's union arm is sized for the largest member (raw_data[200])
// and aligned for the pointer-bearing members.
type v4l2Format struct {
	Type uint32
	_    [4]byte
	Fmt  [200]byte
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.Fmt[0]))
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	UserBits [4]uint8
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	_         [4]byte
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	M         uint64 // union: offset / userptr / planes / fd
	Length    uint32
	Reserved2 uint32
	RequestFD int32
	_         [4]byte
}

func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return errno
		}
	}
}

// fourcc maps the core pixel formats onto V4L2 FourCC codes.
func fourcc(f media.PixelFormat) (uint32, bool) {
	s := ""
	switch f {
	case media.PixFmtNV12:
		s = "NV12"
	case media.PixFmtNV16:
		s = "NV16"
	case media.PixFmtYUV420P:
		s = "YU12"
	case media.PixFmtRGB24:
		s = "RGB3"
	case media.PixFmtBGR24:
		s = "BGR3"
	default:
		return 0, false
	}
	return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24, true
}

// V4L2Stream captures frames from a Video4Linux device using a single
// memory-mapped driver buffer. Each Read dequeues one frame, copies it out,
// and requeues the buffer.
type V4L2Stream struct {
	fd      int
	mapped  []byte
	started bool
	frame   uint32 // SizeImage reported by the driver
}

// OpenV4L2 opens the device, negotiates the format, and starts streaming.
func OpenV4L2(device string, ii media.ImageInfo) (*V4L2Stream, error) {
	code, ok := fourcc(ii.Format)
	if !ok {
		return nil, fmt.Errorf("%w: pixel format %s has no V4L2 FourCC", ErrUnsupported, ii.Format)
	}
	fd, err := unix.Open(device, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", device, err)
	}
	s := &V4L2Stream{fd: fd}

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		s.Close()
		return nil, fmt.Errorf("stream: VIDIOC_QUERYCAP: %w", err)
	}
	if caps.Capabilities&v4l2CapVideoCapture == 0 || caps.Capabilities&v4l2CapStreaming == 0 {
		s.Close()
		return nil, fmt.Errorf("%w: %s does not stream video capture", ErrUnsupported, device)
	}

	var f v4l2Format
	f.Type = v4l2BufTypeVideoCapture
	pix := f.pix()
	pix.Width = uint32(ii.Width)
	pix.Height = uint32(ii.Height)
	pix.PixelFormat = code
	pix.Field = v4l2FieldAny
	if err := ioctl(fd, vidiocSetFormat, unsafe.Pointer(&f)); err != nil {
		s.Close()
		return nil, fmt.Errorf("stream: VIDIOC_S_FMT: %w", err)
	}
	s.frame = pix.SizeImage

	if err := s.start(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *V4L2Stream) start() error {
	req := v4l2RequestBuffers{Count: 1, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(s.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("stream: VIDIOC_REQBUFS: %w", err)
	}

	qb := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(s.fd, vidiocQueryBuf, unsafe.Pointer(&qb)); err != nil {
		return fmt.Errorf("stream: VIDIOC_QUERYBUF: %w", err)
	}
	mapped, err := unix.Mmap(s.fd, int64(qb.M), int(qb.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("stream: mmap capture buffer: %w", err)
	}
	s.mapped = mapped

	if err := s.enqueue(); err != nil {
		return err
	}
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(s.fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("stream: VIDIOC_STREAMON: %w", err)
	}
	s.started = true
	return nil
}

func (s *V4L2Stream) enqueue() error {
	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(s.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("stream: VIDIOC_QBUF: %w", err)
	}
	return nil
}

// Read blocks for the next captured frame and copies it into p. A p shorter
// than the frame truncates; size the destination from ImageInfo.Size.
func (s *V4L2Stream) Read(p []byte) (int, error) {
	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(s.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		if err == unix.EINVAL {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("stream: VIDIOC_DQBUF: %w", err)
	}
	n := copy(p, s.mapped[:buf.BytesUsed])
	if err := s.enqueue(); err != nil {
		return n, err
	}
	return n, nil
}

// Write is not supported on a capture device.
func (s *V4L2Stream) Write(p []byte) (int, error) { return 0, ErrUnsupported }

// Seek is not supported on a live device.
func (s *V4L2Stream) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrUnsupported
}

// Eof always reports false; a live capture has no end.
func (s *V4L2Stream) Eof() bool { return false }

// IoCtrl passes a raw request through to the device, for controls the
// portable surface does not cover.
func (s *V4L2Stream) IoCtrl(request uint, arg uintptr) (int, error) {
	for {
		r1, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(s.fd), uintptr(request), arg)
		if errno == 0 {
			return int(r1), nil
		}
		if errno != unix.EINTR {
			return -1, errno
		}
	}
}

// FrameSize returns the per-frame byte size negotiated with the driver.
func (s *V4L2Stream) FrameSize() int { return int(s.frame) }

// Close stops streaming, unmaps the capture buffer, and closes the device.
func (s *V4L2Stream) Close() error {
	if s.started {
		typ := uint32(v4l2BufTypeVideoCapture)
		_ = ioctl(s.fd, vidiocStreamOff, unsafe.Pointer(&typ))
		s.started = false
	}
	if s.mapped != nil {
		_ = unix.Munmap(s.mapped)
		s.mapped = nil
	}
	return unix.Close(s.fd)
}

func registerPlatform(r *registry.Registry) {
	r.Register(registry.KindStream, V4L2CaptureStream, registry.Factory{
		New: func(params map[string]string) (any, error) {
			device := params[param.KeyDevice]
			if device == "" {
				return nil, fmt.Errorf("stream: missing %s", param.KeyDevice)
			}
			ii, err := media.ParseImageInfo(params)
			if err != nil {
				return nil, err
			}
			// use_libv4l2 and sub_device are accepted for parameter
			// compatibility; the pure-Go path talks to the kernel directly.
			return OpenV4L2(device, ii)
		},
		Match: registry.TagMatcher("", media.ImageNV12+","+media.ImageYUV420P+","+media.ImageRGB24),
	})
}
