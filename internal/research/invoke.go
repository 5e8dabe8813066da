package research

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
)

// Invoke runs one worker under timeout and converts every way it can end
// into an Outcome. A body that outlives its deadline is abandoned; its
// late result is discarded.
func Invoke(ctx context.Context, spec Spec, job *model.AgenticJob, in *Snapshot, timeout time.Duration) Outcome {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type ret struct {
		res      Result
		panicked any
	}
	done := make(chan ret, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				zap.L().Error("research: worker panicked",
					zap.String("worker", spec.Name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- ret{panicked: p}
			}
		}()
		done <- ret{res: spec.Run(wctx, job, in)}
	}()

	var out Outcome
	select {
	case r := <-done:
		switch {
		case r.panicked != nil:
			out.Result = EmptyResult()
			out.Result.Fail(fmt.Sprintf("worker %s panicked: %v", spec.Name, r.panicked))
			out.Kind = OutcomePanicked
		default:
			out.Result = r.res.normalize()
			out.Kind = OutcomeSucceeded
			if out.Result.Failed() {
				out.Kind = OutcomeFailed
			}
		}
	case <-wctx.Done():
		out.Result = EmptyResult()
		if errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out.Kind = OutcomeTimedOut
			out.Result.Fail(fmt.Sprintf("worker %s timed out after %s", spec.Name, timeout))
		} else {
			out.Kind = OutcomeCanceled
			out.Result.Fail(fmt.Sprintf("worker %s canceled: %v", spec.Name, ctx.Err()))
		}
	}

	out.Worker = spec.Name
	out.Runtime = time.Since(start)
	return out
}
