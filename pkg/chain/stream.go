package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/r3labs/sse/v2"
	backoffv1 "gopkg.in/cenkalti/backoff.v1"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

// HeadStreamer opens head-event subscriptions. Every call produces a fresh
// connection; subscriptions are recreated, never resumed.
type HeadStreamer interface {
	// SubscribeHeads delivers head notifications on the returned channel
	// until the context is cancelled or the stream faults. A fault is
	// reported on the error channel and both channels are abandoned; the
	// caller reconnects by calling SubscribeHeads again.
	SubscribeHeads(ctx context.Context) (<-chan HeadEvent, <-chan error, error)
}

type HeadStream struct {
	eventsURL string
}

func NewHeadStream(endpoint string) (*HeadStream, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid beacon endpoint")
	}
	u = u.JoinPath("/eth/v1/events")
	u.RawQuery = url.Values{"topics": []string{"head"}}.Encode()

	return &HeadStream{eventsURL: u.String()}, nil
}

func (s *HeadStream) SubscribeHeads(ctx context.Context) (<-chan HeadEvent, <-chan error, error) {
	client := sse.NewClient(s.eventsURL)
	client.Connection = &http.Client{Timeout: 0}
	client.Headers["Accept"] = "text/event-stream"
	// Reconnection is an explicit step owned by the synchronizer, not hidden
	// retry logic inside the transport.
	client.ReconnectStrategy = &backoffv1.StopBackOff{}

	raw := make(chan *sse.Event, 16)
	if err := client.SubscribeChanRawWithContext(ctx, raw); err != nil {
		return nil, nil, errs.Subscription(errors.Wrap(err, "subscribing to head events"))
	}

	events := make(chan HeadEvent, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(events)

		for {
			select {
			case <-ctx.Done():
				client.Unsubscribe(raw)
				return
			case ev, ok := <-raw:
				if !ok {
					errc <- errs.Subscriptionf("head event stream closed")
					return
				}

				head, err := decodeHeadEvent(ev)
				if err != nil {
					client.Unsubscribe(raw)
					errc <- err
					return
				}
				if head == nil {
					continue
				}

				select {
				case events <- *head:
				case <-ctx.Done():
					client.Unsubscribe(raw)
					return
				default:
					// A stalled consumer means events would be dropped
					// silently; treat it as fatal for this subscription.
					client.Unsubscribe(raw)
					errc <- errs.Subscriptionf("head event channel full, dropping slot %d", head.Slot)
					return
				}
			}
		}
	}()

	return events, errc, nil
}

func decodeHeadEvent(ev *sse.Event) (*HeadEvent, error) {
	// Keep-alive comments and unrelated topics carry no payload.
	if len(ev.Data) == 0 {
		return nil, nil
	}
	if name := string(ev.Event); name != "" && name != "head" {
		return nil, errs.Subscriptionf("unexpected event %q received", name)
	}

	var data headEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, errs.Subscription(errors.Wrap(err, "decoding head event"))
	}

	slot, err := parseSlot(data.Slot)
	if err != nil {
		return nil, errs.Subscription(err)
	}

	return &HeadEvent{Slot: slot, Block: data.Block}, nil
}
