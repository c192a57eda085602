package notify

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"reminder-dispatcher/internal/model"
)

type throttled struct {
	next    Client
	limiter *rate.Limiter
}

// Throttled wraps c with a token bucket of perSec sends per second. A wait
// cut short by ctx is reported as a failure without calling c.
func Throttled(c Client, perSec float64) Client {
	burst := int(math.Ceil(perSec))
	if burst < 1 {
		burst = 1
	}
	return &throttled{next: c, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (t *throttled) Send(ctx context.Context, identity, content string) model.Outcome {
	if err := t.limiter.Wait(ctx); err != nil {
		return model.Failure("rate limit wait: " + err.Error())
	}
	return t.next.Send(ctx, identity, content)
}
