// Package pipeline chains typed processing stages with channels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyPipeline = errors.New("pipeline has no stages")

const chanSize = 20

type TypedStage[T any, U any] interface {
	Process(ctx context.Context, in <-chan T) (<-chan U, error)
}

// StageFunc adapts a function to TypedStage.
type StageFunc[T any, U any] func(ctx context.Context, in <-chan T) (<-chan U, error)

func (f StageFunc[T, U]) Process(ctx context.Context, in <-chan T) (<-chan U, error) {
	return f(ctx, in)
}

type Stage interface {
	Run(ctx context.Context, in <-chan any) (<-chan any, error)
}

// GenericWrapper lets a TypedStage sit in an untyped chain. Items that are not
// a T are dropped.
type GenericWrapper[T any, U any] struct {
	Name  string
	Stage TypedStage[T, U]
}

func Wrap[T any, U any](name string, stage TypedStage[T, U]) *GenericWrapper[T, U] {
	return &GenericWrapper[T, U]{Name: name, Stage: stage}
}

func (w *GenericWrapper[T, U]) Run(ctx context.Context, in <-chan any) (<-chan any, error) {
	typedIn := make(chan T, chanSize)
	go func() {
		defer close(typedIn)
		for item := range in {
			data, ok := item.(T)
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case typedIn <- data:
			}
		}
	}()

	resultChan, err := w.Stage.Process(ctx, typedIn)
	if err != nil {
		return nil, fmt.Errorf("stage %s failed: %w", w.Name, err)
	}

	out := make(chan any, chanSize)
	go func() {
		defer close(out)
		if resultChan == nil {
			return
		}
		for data := range resultChan {
			select {
			case <-ctx.Done():
				return
			case out <- data:
			}
		}
	}()

	return out, nil
}

type Pipeline struct {
	ctx    context.Context
	stages []Stage
}

func NewPipeline(ctx context.Context) *Pipeline {
	return &Pipeline{
		ctx:    ctx,
		stages: make([]Stage, 0),
	}
}

func (p *Pipeline) AddStage(stage Stage) *Pipeline {
	p.stages = append(p.stages, stage)
	return p
}

// Run starts every stage and returns the output of the last one. The
// returned channel is closed once the chain has drained.
func (p *Pipeline) Run() (<-chan any, error) {
	if len(p.stages) == 0 {
		return nil, ErrEmptyPipeline
	}

	startChan := make(chan any)
	close(startChan)

	var outputChan <-chan any = startChan
	for _, stage := range p.stages {
		next, err := stage.Run(p.ctx, outputChan)
		if err != nil {
			return nil, err
		}
		outputChan = next
	}
	return outputChan, nil
}

// Wait runs the pipeline and blocks until its output is drained.
func (p *Pipeline) Wait() error {
	out, err := p.Run()
	if err != nil {
		return err
	}
	for range out {
	}
	return p.ctx.Err()
}
