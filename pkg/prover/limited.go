package prover

import (
	"context"

	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"golang.org/x/time/rate"
)

// Limited admits proofs at a bounded rate so bursts of runs do not overload
// a shared prover.
type Limited struct {
	next    Prover
	limiter *rate.Limiter
}

// NewLimited allows perSecond proofs per second with the given burst.
func NewLimited(p Prover, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: p, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Scheme() string { return l.next.Scheme() }

func (l *Limited) Prove(ctx context.Context, claim receipt.Claim, tr *trace.Trace) (receipt.Seal, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return receipt.Seal{}, zkerr.New(zkerr.KindCancelled, "prove admission", ctx.Err())
		}
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove admission", err)
	}
	return l.next.Prove(ctx, claim, tr)
}
