package worker

import "context"

// FuncWorker adapts a plain function to domain.Worker, the same "swap a
// real backend for a deterministic fake under the same interface" shape
// the teacher's engine package uses for InferenceEngine.
type FuncWorker func(ctx context.Context, payload []byte) ([]byte, error)

func (f FuncWorker) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
