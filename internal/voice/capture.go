package voice

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultSilenceWindow is how long the watchdog waits without a
// non-silent sample before auto-finalizing a recording.
const DefaultSilenceWindow = 5 * time.Second

// DefaultMIMEType matches what the browser recorder produced.
const DefaultMIMEType = "audio/mp4"

var (
	ErrPermissionDenied = errors.New("audio input permission denied")
	ErrAlreadyRecording = errors.New("capture already in progress")
)

// Chunk is one buffered slice of recorded audio together with an
// amplitude sample the silence watchdog inspects.
type Chunk struct {
	Data      []byte
	Amplitude float64
}

// AudioSource abstracts the input device. Start acquires it (and may
// fail with ErrPermissionDenied), Chunks delivers buffered audio until
// the source ends, Stop releases the device. Every successful Start is
// paired with exactly one Stop, on every path.
type AudioSource interface {
	Start(ctx context.Context) error
	Chunks() <-chan Chunk
	Stop()
}

// Clip is the finalized recording handed to the caller.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Options tunes a Capture.
type Options struct {
	// SilenceWindow defaults to DefaultSilenceWindow.
	SilenceWindow time.Duration
	// SilenceThreshold is the amplitude at or below which a chunk
	// counts as silent. Zero means any signal resets the watchdog.
	SilenceThreshold float64
	// MIMEType stamps finalized clips; defaults to DefaultMIMEType.
	MIMEType string
}

type captureState int

const (
	stateIdle captureState = iota
	stateRecording
	stateFinalizing
)

// Capture drives one audio source through the
// Idle -> Recording -> Finalizing -> Idle cycle with silence
// auto-stop. The component is reusable: a failed or finished attempt
// leaves it ready for the next Start.
type Capture struct {
	source AudioSource
	opts   Options

	mu    sync.Mutex
	state captureState
	stop  chan struct{}
}

// NewCapture wraps source with the given options.
func NewCapture(source AudioSource, opts Options) *Capture {
	if opts.SilenceWindow <= 0 {
		opts.SilenceWindow = DefaultSilenceWindow
	}
	if opts.MIMEType == "" {
		opts.MIMEType = DefaultMIMEType
	}
	return &Capture{source: source, opts: opts}
}

// Recording reports whether a capture is in progress.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateIdle
}

// Start acquires the device and begins buffering. The returned channel
// delivers exactly one finalized clip (then closes) once the silence
// watchdog expires, Stop is called, or the source ends. A failed
// device acquisition is terminal for this attempt only.
func (c *Capture) Start(ctx context.Context) (<-chan Clip, error) {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	c.state = stateRecording
	c.stop = make(chan struct{})
	c.mu.Unlock()

	if err := c.source.Start(ctx); err != nil {
		c.mu.Lock()
		c.state = stateIdle
		c.mu.Unlock()
		return nil, err
	}

	result := make(chan Clip, 1)
	go c.record(ctx, result)
	return result, nil
}

// Stop ends the capture early and finalizes whatever was buffered.
// Calling it while idle is a no-op.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRecording {
		return
	}
	c.state = stateFinalizing
	close(c.stop)
}

func (c *Capture) record(ctx context.Context, result chan<- Clip) {
	var buffered bytes.Buffer

	watchdog := time.NewTimer(c.opts.SilenceWindow)
	defer watchdog.Stop()

	chunks := c.source.Chunks()
	stop := c.stop

loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			buffered.Write(chunk.Data)
			if chunk.Amplitude > c.opts.SilenceThreshold {
				if !watchdog.Stop() {
					<-watchdog.C
				}
				watchdog.Reset(c.opts.SilenceWindow)
			}
		case <-watchdog.C:
			log.Printf("[voice] silence window expired, finalizing capture")
			break loop
		case <-stop:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	// Audio the source already delivered when the stop fired still
	// belongs to the clip; pull what is queued before releasing the
	// device.
drain:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break drain
			}
			buffered.Write(chunk.Data)
		default:
			break drain
		}
	}

	// Single teardown path for the device handle.
	c.source.Stop()

	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()

	result <- Clip{Data: buffered.Bytes(), MIMEType: c.opts.MIMEType}
	close(result)
}
