package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// Sink receives decoded samples for playback.
type Sink interface {
	Write(samples []float32) error
}

// Resetter is implemented by sinks that buffer internally and can drop
// pending output immediately.
type Resetter interface {
	Reset()
}

// DecodePCM16 converts little-endian signed 16-bit PCM into samples in [-1, 1).
// A trailing odd byte is ignored.
func DecodePCM16(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(b[2*i:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Streamer queues decoded frames and plays them through a Sink on its own goroutine.
type Streamer struct {
	sink     Sink
	onVolume func(float64)

	frames chan []float32
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	volume float64
	closed bool
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithVolumeCallback registers a callback invoked with each new volume level.
func WithVolumeCallback(fn func(float64)) Option {
	return func(s *Streamer) { s.onVolume = fn }
}

// WithQueueSize sets how many frames may wait for playback.
func WithQueueSize(n int) Option {
	return func(s *Streamer) {
		if n > 0 {
			s.frames = make(chan []float32, n)
		}
	}
}

// NewStreamer starts a playback goroutine writing to sink.
func NewStreamer(sink Sink, opts ...Option) *Streamer {
	if sink == nil {
		sink = Discard
	}
	s := &Streamer{
		sink:   sink,
		frames: make(chan []float32, 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.play()
	return s
}

func (s *Streamer) play() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			_ = s.sink.Write(f)
		}
	}
}

// AddPCM16 decodes a frame, updates the volume level and queues it.
// When the queue is full the frame is dropped.
func (s *Streamer) AddPCM16(b []byte) {
	samples := DecodePCM16(b)
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setVolume(RMS(samples))
	select {
	case s.frames <- samples:
	default:
	}
}

// Stop halts playback at once: queued frames are discarded and the sink is reset.
func (s *Streamer) Stop() {
drain:
	for {
		select {
		case <-s.frames:
		default:
			break drain
		}
	}
	if r, ok := s.sink.(Resetter); ok {
		r.Reset()
	}
	s.setVolume(0)
}

// Volume returns the most recent output level.
func (s *Streamer) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Close stops playback and waits for the playback goroutine to exit.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
}

func (s *Streamer) setVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	fn := s.onVolume
	s.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

type discard struct{}

func (discard) Write([]float32) error { return nil }

// Discard drops all samples.
var Discard Sink = discard{}

// WriterSink encodes samples back to s16le onto an io.Writer, e.g. a pipe into a player.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (ws *WriterSink) Write(samples []float32) error {
	buf := make([]byte, 2*len(samples))
	for i, f := range samples {
		v := math.Round(float64(f) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v)))
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_, err := ws.w.Write(buf)
	return err
}
