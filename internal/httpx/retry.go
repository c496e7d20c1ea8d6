package httpx

import "context"

// Retry runs fn until it succeeds, returns an error retryable rejects, or
// the backoff policy is exhausted. Transport-level retries already happen
// inside Client; this helper is for application-level signals the transport
// cannot see, such as rate-limit messages inside a 200 response body.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		delay, ok := b.Next(attempt)
		if !ok {
			return err
		}
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
	}
}
