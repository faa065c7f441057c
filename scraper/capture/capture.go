// Package capture harvests the pricing payload from a session's network
// traffic.
package capture

import (
	"context"
	"errors"
	"time"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/utils"
)

// ErrCaptureTimeout is what callers report when Capture returns no payload.
var ErrCaptureTimeout = errors.New("capture timeout: no pricing payload observed")

// Response is one completed network response seen by the session.
type Response struct {
	RequestID string
	URL       string
	Status    int
	MIMEType  string
}

// TrafficLog exposes a session's network activity.
type TrafficLog interface {
	// Enable starts recording. It is safe to call more than once.
	Enable(ctx context.Context) error
	// Completed drains responses whose bodies finished loading since the last call.
	Completed() []Response
	// Body fetches the body of a recorded response.
	Body(ctx context.Context, requestID string) ([]byte, error)
}

// Result is a captured pricing payload together with where it came from.
type Result struct {
	Payload models.Payload
	Body    []byte
	URL     string
}

// Criteria selects the response to capture. URL filters candidates before
// their body is fetched. Accept, when set, vetoes a parsed payload.
type Criteria struct {
	URL    func(url string) bool
	Accept func(models.Payload) bool
}

// Capturer polls a TrafficLog for the first structurally valid payload.
type Capturer struct {
	poll   time.Duration
	logger *utils.Logger
}

func New(poll time.Duration, logger *utils.Logger) *Capturer {
	if poll <= 0 {
		poll = time.Second
	}
	return &Capturer{poll: poll, logger: logger}
}

// Capture returns the first response whose URL satisfies crit.URL, whose body
// parses as a pricing payload and which crit.Accept does not veto. It returns
// (nil, nil) once maxWait elapses without one. Rejected responses are never
// fetched twice.
func (c *Capturer) Capture(ctx context.Context, log TrafficLog, crit Criteria, maxWait time.Duration) (*Result, error) {
	if err := log.Enable(ctx); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	tried := utils.NewKeySet()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		for _, resp := range log.Completed() {
			if !crit.URL(resp.URL) || tried.Contains(resp.RequestID) {
				continue
			}
			tried.Add(resp.RequestID)
			c.logger.Debug("[capture] Candidate %s (%d %s)", resp.URL, resp.Status, resp.MIMEType)

			body, err := log.Body(wctx, resp.RequestID)
			if err != nil {
				c.logger.Warn("[capture] Could not read body of %s: %v", resp.URL, err)
				continue
			}
			payload, err := models.ParsePayload(body)
			if err != nil {
				c.logger.Warn("[capture] Ignoring %s: %v", resp.URL, err)
				continue
			}
			if crit.Accept != nil && !crit.Accept(payload) {
				c.logger.Debug("[capture] Ignoring %s: payload is for another target", resp.URL)
				continue
			}

			c.logger.Info("[capture] Pricing payload from %s: %d properties, %d dates",
				resp.URL, len(payload), payload.EntryCount())
			return &Result{Payload: payload, Body: body, URL: resp.URL}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c.logger.Warn("[capture] No pricing payload within %s (%d candidates tried)", maxWait, tried.Size())
			return nil, nil
		case <-ticker.C:
		}
	}
}
