// Package relay forwards lifecycle events to an external HTTP endpoint so
// operators can hook alerting or dashboards onto a bot fleet without polling.
package relay

import (
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/craftbot/gocraft/internal/events"
	"github.com/craftbot/gocraft/pkg/logger"
)

// Webhook POSTs every event as a JSON body to a fixed URL. Delivery is
// at-most-once: a failed POST after retries is logged and dropped, the event
// log in the store remains the durable record.
type Webhook struct {
	url    string
	client *resty.Client

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewWebhook(url string) *Webhook {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	return &Webhook{
		url:    url,
		client: client,
		stop:   make(chan struct{}),
	}
}

// Forward consumes the channel until it closes or Stop is called. Call as a
// goroutine.
func (w *Webhook) Forward(ch <-chan events.Event) {
	w.wg.Add(1)
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := w.post(ev); err != nil {
				logger.Warnf("webhook relay: drop %s event for bot %s: %v", ev.Kind, ev.BotID, err)
			}
		case <-w.stop:
			return
		}
	}
}

func (w *Webhook) post(ev events.Event) error {
	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(w.url)
	if err != nil {
		return errors.Wrap(err, "post event")
	}
	if resp.StatusCode() >= 300 {
		return errors.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}

func (w *Webhook) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
}
