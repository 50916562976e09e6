// Package webhook delivers print outcomes to registered HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/db"
)

// WebhookPayload is the envelope posted to every endpoint. Signature covers
// the raw Data bytes.
type WebhookPayload struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        string `json:"job_id"`
	Kind         string `json:"kind"`
	OrderID      string `json:"order_id,omitempty"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty"`
	SubmittedBy  string `json:"submitted_by,omitempty"`
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

// SecretDecoder turns a stored webhook secret into the HMAC key.
type SecretDecoder func(stored string) (string, error)

// delivery is one envelope bound for one endpoint, ready to post.
type delivery struct {
	webhookID int64
	url       string
	event     string
	signature string
	body      []byte
}

// rejectedError is a 4xx answer; the endpoint will not accept a resend.
type rejectedError struct {
	status int
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("endpoint rejected delivery with status %d", e.status)
}

type WebhookSender struct {
	webhooks *db.WebhookOperations
	decode   SecretDecoder
	client   *http.Client
	config   WebhookConfig

	deliveries chan delivery
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewWebhookSender(webhooks *db.WebhookOperations, decode SecretDecoder, config WebhookConfig) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if decode == nil {
		decode = func(s string) (string, error) { return s, nil }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookSender{
		webhooks:   webhooks,
		decode:     decode,
		client:     &http.Client{Timeout: config.Timeout},
		config:     config,
		deliveries: make(chan delivery, config.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.work(id)
		}(i)
	}
}

// Stop abandons queued deliveries and waits for in-flight ones.
func (s *WebhookSender) Stop() {
	s.cancel()
	s.wg.Wait()
}

// SendPrintOutcome queues event for every active webhook subscribed to it.
// It never blocks the caller; a full queue drops the delivery.
func (s *WebhookSender) SendPrintOutcome(event string, job *core.Job, errMsg string) {
	data, err := json.Marshal(JobEventData{
		JobID:        job.ID,
		Kind:         job.Kind,
		OrderID:      job.OrderID,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		ErrorMessage: errMsg,
		SubmittedBy:  job.SubmittedByName,
	})
	if err != nil {
		log.Printf("[webhook] encode %s for job %s: %v", event, job.ID, err)
		return
	}

	hooks, err := s.webhooks.ListActiveWebhooksForEvent(s.ctx, event)
	if err != nil {
		log.Printf("[webhook] list subscribers of %s: %v", event, err)
		return
	}

	now := time.Now().UTC()
	for _, w := range hooks {
		d, err := s.prepare(w, event, now, data)
		if err != nil {
			log.Printf("[webhook] skip webhook %d: %v", w.ID, err)
			continue
		}
		select {
		case s.deliveries <- d:
		default:
			log.Printf("[webhook] queue full, dropping %s for webhook %d", event, w.ID)
		}
	}
}

func (s *WebhookSender) prepare(w *db.Webhook, event string, at time.Time, data []byte) (delivery, error) {
	envelope := WebhookPayload{Event: event, Timestamp: at, Data: data}
	if w.Secret != "" {
		secret, err := s.decode(w.Secret)
		if err != nil {
			return delivery{}, fmt.Errorf("decode secret: %w", err)
		}
		if secret != "" {
			envelope.Signature = Sign(data, secret)
		}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return delivery{}, err
	}
	return delivery{
		webhookID: w.ID,
		url:       w.URL,
		event:     event,
		signature: envelope.Signature,
		body:      body,
	}, nil
}

func (s *WebhookSender) work(id int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.deliveries:
			if err := s.deliver(d); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[webhook worker %d] %s to webhook %d: %v", id, d.event, d.webhookID, err)
			}
		}
	}
}

// deliver posts d, retrying transport and 5xx failures with doubling delay.
func (s *WebhookSender) deliver(d delivery) error {
	delay := s.config.RetryDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = s.post(d); err == nil {
			return nil
		}
		var rejected *rejectedError
		if errors.As(err, &rejected) || attempt == s.config.RetryCount {
			break
		}

		log.Printf("[webhook] attempt %d/%d for webhook %d failed, retrying in %v: %v",
			attempt, s.config.RetryCount, d.webhookID, delay, err)
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (s *WebhookSender) post(d delivery) error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, d.url, bytes.NewReader(d.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", d.event)
	if d.signature != "" {
		req.Header.Set("X-Webhook-Signature", d.signature)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("endpoint answered %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return &rejectedError{status: resp.StatusCode}
	}
	return nil
}

// Sign is the hex HMAC-SHA256 of payload, sent as X-Webhook-Signature.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
