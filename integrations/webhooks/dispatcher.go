package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hedgeline/core/events"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 128
)

// DefaultTopics are the event types forwarded when none are configured.
var DefaultTopics = []string{
	events.TypePerpetualLiquidated,
	events.TypePerpetualForced,
	events.TypeModulePaused,
	events.TypeModuleUnpaused,
}

// Payload is the JSON body posted for every delivery.
type Payload struct {
	DeliveryID string            `json:"deliveryId"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// Dispatcher forwards selected ledger events to an HTTP endpoint with retry
// and exponential backoff. It implements events.Emitter.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	topics      []string
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithTopics restricts deliveries to events whose type matches one of the
// supplied entries. An entry ending in "." matches the whole family.
func WithTopics(topics ...string) Option {
	return func(d *Dispatcher) {
		cleaned := make([]string, 0, len(topics))
		for _, topic := range topics {
			if topic = strings.TrimSpace(topic); topic != "" {
				cleaned = append(cleaned, topic)
			}
		}
		if len(cleaned) > 0 {
			d.topics = cleaned
		}
	}
}

// WithLogger sets the logger used for dropped and failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		topics:      append([]string(nil), DefaultTopics...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit queues matching events. Ledger commits never wait on the network, so a
// full queue drops the event.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil || !d.subscribed(evt.EventType()) {
		return
	}
	flat := events.Flatten(evt)
	payload := Payload{
		DeliveryID: uuid.NewString(),
		Type:       flat.Type,
		Attributes: flat.Attributes,
		EmittedAt:  d.now().UTC(),
	}
	if err := d.enqueue(payload); err != nil {
		d.logger.Warn("webhook delivery dropped", "type", payload.Type, "error", err)
	}
}

func (d *Dispatcher) subscribed(eventType string) bool {
	for _, topic := range d.topics {
		if topic == eventType {
			return true
		}
		if strings.HasSuffix(topic, ".") && strings.HasPrefix(eventType, topic) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) enqueue(payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	default:
	}
	select {
	case d.queue <- delivery{id: payload.DeliveryID, eventType: payload.Type, body: data}:
		return nil
	default:
		return errors.New("webhook: queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery failed", "type", job.eventType, "delivery", job.id, "attempts", attempt, "error", err)
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hedgeline-Event", job.eventType)
	req.Header.Set("X-Hedgeline-Delivery", job.id)
	req.Header.Set("X-Hedgeline-Signature", Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value receivers verify against the body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
