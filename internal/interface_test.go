package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAudioEntity(t *testing.T) {
	t.Parallel()

	a := AudioEntity{SampleRate: 48000, FrameSize: 960, Channels: 2}
	assert.Equal(t, 20*time.Millisecond, a.FrameDuration())
	assert.Equal(t, 1920, a.FrameSamples())

	assert.Equal(t, time.Duration(0), AudioEntity{FrameSize: 960}.FrameDuration())
	assert.Equal(t, 960, AudioEntity{FrameSize: 960}.FrameSamples())
}

func TestFunc(t *testing.T) {
	t.Parallel()

	errStop := errors.New("stop")
	var got context.Context
	w := Func("tone", func(ctx context.Context) error {
		got = ctx
		return errStop
	})

	ctx := context.Background()
	assert.Equal(t, "tone", w.Name())
	assert.ErrorIs(t, w.Start(ctx), errStop)
	assert.Equal(t, ctx, got)
}
