package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"rms-pricing-scraper/scraper/capture"
)

// Traffic records the tab's responses from the CDP network domain. A
// response is reported once its body has finished loading.
type Traffic struct {
	browser *Browser

	mu       sync.Mutex
	inFlight map[network.RequestID]capture.Response
	done     []capture.Response
}

func newTraffic() *Traffic {
	return &Traffic{inFlight: make(map[network.RequestID]capture.Response)}
}

func (t *Traffic) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		t.mu.Lock()
		t.inFlight[e.RequestID] = capture.Response{
			RequestID: string(e.RequestID),
			URL:       e.Response.URL,
			Status:    int(e.Response.Status),
			MIMEType:  e.Response.MimeType,
		}
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.mu.Lock()
		if r, ok := t.inFlight[e.RequestID]; ok {
			t.done = append(t.done, r)
			delete(t.inFlight, e.RequestID)
		}
		t.mu.Unlock()
	case *network.EventLoadingFailed:
		t.mu.Lock()
		delete(t.inFlight, e.RequestID)
		t.mu.Unlock()
	}
}

// Enable turns on the network domain for the tab.
func (t *Traffic) Enable(ctx context.Context) error {
	return t.browser.run(ctx, network.Enable())
}

func (t *Traffic) Completed() []capture.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.done
	t.done = nil
	return out
}

func (t *Traffic) Body(ctx context.Context, requestID string) ([]byte, error) {
	var body []byte
	err := t.browser.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(network.RequestID(requestID)).Do(ctx)
		return err
	}))
	return body, err
}
