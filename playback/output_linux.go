//go:build linux

package playback

import (
	"context"
	"sync"

	"github.com/gopxl/beep"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseOutput struct {
	client *pulse.Client
}

func NewOutput() (Output, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("soulsync"))
	if err != nil {
		return nil, err
	}
	return &pulseOutput{client: c}, nil
}

func (o *pulseOutput) Play(ctx context.Context, s beep.Streamer, format beep.Format, started func()) error {
	var once sync.Once
	buf := make([][2]float64, 1024)
	reader := pulse.Float32Reader(func(out []float32) (int, error) {
		if ctx.Err() != nil {
			return 0, pulse.EndOfData
		}
		frames := min(len(out)/2, len(buf))
		n, ok := s.Stream(buf[:frames])
		for i := 0; i < n; i++ {
			out[2*i] = float32(buf[i][0])
			out[2*i+1] = float32(buf[i][1])
		}
		if n > 0 {
			once.Do(started)
		}
		if n == 0 && !ok {
			return 0, pulse.EndOfData
		}
		return n * 2, nil
	})

	stream, err := o.client.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(int(format.SampleRate)),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return err
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
	return s.Err()
}

func (o *pulseOutput) Close() {
	o.client.Close()
}
