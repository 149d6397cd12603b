package sender

import (
	"context"

	"audioring/internal/media"
	"audioring/internal/pipeline"
)

func (s *Sender) ConvertToPCMStage() pipeline.TypedStage[[]float32, []int16] {
	return pipeline.StageFunc[[]float32, []int16](convertToPCM)
}

func convertToPCM(ctx context.Context, in <-chan []float32) (<-chan []int16, error) {
	out := make(chan []int16, 20)

	go func() {
		defer close(out)

		for data := range in {
			pcm := make([]int16, len(data))
			for i, sample := range data {
				pcm[i] = media.Float32ToInt16(sample)
			}

			select {
			case <-ctx.Done():
				return
			case out <- pcm:
			}
		}
	}()
	return out, nil
}
