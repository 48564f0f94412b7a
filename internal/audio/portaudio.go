package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from the default input device via PortAudio.
// It satisfies CaptureDevice with a blocking read model: ReadBlock returns
// one block of BlockSize samples per call.
type PortAudioDevice struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	open   bool
}

// NewPortAudioDevice creates an unopened device.
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

// Open initializes PortAudio and claims the default input stream.
func (d *PortAudioDevice) Open(cfg *Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	d.buf = make([]int16, cfg.BlockSize())
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(d.buf), d.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	d.stream = stream
	d.open = true
	return nil
}

// ReadBlock blocks until one capture block is available and returns a copy.
func (d *PortAudioDevice) ReadBlock() ([]int16, error) {
	d.mu.Lock()
	stream := d.stream
	open := d.open
	d.mu.Unlock()

	if !open || stream == nil {
		return nil, ErrNotStarted
	}
	if err := stream.Read(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	out := make([]int16, len(d.buf))
	copy(out, d.buf)
	d.mu.Unlock()
	return out, nil
}

// Close stops the stream and releases PortAudio.
func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil
	}
	d.open = false

	var err error
	if d.stream != nil {
		if serr := d.stream.Stop(); serr != nil {
			err = serr
		}
		if cerr := d.stream.Close(); cerr != nil && err == nil {
			err = cerr
		}
		d.stream = nil
	}
	portaudio.Terminate()
	return err
}
