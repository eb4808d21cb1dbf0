//go:build !linux

package playback

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/gopxl/beep"
)

type malgoOutput struct {
	ctx *malgo.AllocatedContext
}

func NewOutput() (Output, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoOutput{ctx: ctx}, nil
}

func (o *malgoOutput) Play(ctx context.Context, s beep.Streamer, format beep.Format, started func()) error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatF32
	config.Playback.Channels = uint32(format.NumChannels)
	config.SampleRate = uint32(format.SampleRate)

	var once, finish sync.Once
	drained := make(chan struct{})
	buf := make([][2]float64, 0)

	onData := func(pOutput, _ []byte, frameCount uint32) {
		if cap(buf) < int(frameCount) {
			buf = make([][2]float64, frameCount)
		}
		buf = buf[:frameCount]
		n, ok := 0, true
		select {
		case <-drained:
			ok = false
		default:
			n, ok = s.Stream(buf)
		}
		for i := 0; i < int(frameCount); i++ {
			var l, r float32
			if i < n {
				l, r = float32(buf[i][0]), float32(buf[i][1])
			}
			binary.LittleEndian.PutUint32(pOutput[i*8:], math.Float32bits(l))
			binary.LittleEndian.PutUint32(pOutput[i*8+4:], math.Float32bits(r))
		}
		if n > 0 {
			once.Do(started)
		}
		if !ok || n < int(frameCount) {
			finish.Do(func() { close(drained) })
		}
	}

	device, err := malgo.InitDevice(o.ctx.Context, config, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return err
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return err
	}

	select {
	case <-drained:
	case <-ctx.Done():
	}
	device.Stop()
	return s.Err()
}

func (o *malgoOutput) Close() {
	o.ctx.Uninit()
	o.ctx.Free()
}
