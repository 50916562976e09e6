package core

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/orrn/printdispatch/internal/order"
	"github.com/orrn/printdispatch/internal/receipt"
)

var ErrIncompleteDetails = errors.New("delivery details are incomplete")

// DirectPrinter prints a document synchronously, bypassing the queue.
type DirectPrinter interface {
	PrintNow(ctx context.Context, document, printerName string) bool
}

// ReceiptOptionsSource yields formatter options from the current printer
// configuration.
type ReceiptOptionsSource interface {
	ReceiptOptions() receipt.Options
}

// Service is the surface the rest of the POS uses to print.
type Service struct {
	queue    *Queue
	printer  DirectPrinter
	orders   order.Producer
	receipts ReceiptOptionsSource
}

func NewService(q *Queue, p DirectPrinter, orders order.Producer, receipts ReceiptOptionsSource) *Service {
	return &Service{queue: q, printer: p, orders: orders, receipts: receipts}
}

func (s *Service) Queue() *Queue {
	return s.queue
}

// Enqueue schedules a rendered document. Failures are logged, never returned.
func (s *Service) Enqueue(ctx context.Context, document string, kind receipt.Kind, orderID, submitterID, submitterName string) {
	s.queue.EnqueueBestEffort(ctx, EnqueueRequest{
		Document:        document,
		Kind:            kind,
		OrderID:         orderID,
		SubmittedByID:   submitterID,
		SubmittedByName: submitterName,
	})
}

func (s *Service) PrintNow(ctx context.Context, document, printerName string) bool {
	if s.printer == nil {
		return false
	}
	return s.printer.PrintNow(ctx, document, printerName)
}

// Render fetches an order and formats it.
func (s *Service) Render(ctx context.Context, orderID string, kind receipt.Kind) (*order.Snapshot, string, error) {
	if !kind.Valid() {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if s.orders == nil {
		return nil, "", errors.New("no order source configured")
	}
	snap, err := s.orders.Snapshot(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	document, err := s.Format(snap, kind)
	return snap, document, err
}

// Format lays out snap with the current printer options. Delivery summaries
// require complete delivery details.
func (s *Service) Format(snap *order.Snapshot, kind receipt.Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if kind == receipt.KindDeliverySummary && !order.IsDeliveryDetailsFilled(snap) {
		return "", ErrIncompleteDetails
	}
	var opts receipt.Options
	if s.receipts != nil {
		opts = s.receipts.ReceiptOptions()
	}
	return receipt.Format(snap, kind, opts), nil
}

// EnqueueOrder renders an order and queues it for printing.
func (s *Service) EnqueueOrder(ctx context.Context, orderID string, kind receipt.Kind, submitterID, submitterName string) (*Job, error) {
	_, document, err := s.Render(ctx, orderID, kind)
	if err != nil {
		if errors.Is(err, ErrIncompleteDetails) {
			log.Printf("[queue] order %s not printed: %v", orderID, err)
		}
		return nil, err
	}
	return s.queue.Enqueue(ctx, EnqueueRequest{
		Document:        document,
		Kind:            kind,
		OrderID:         orderID,
		SubmittedByID:   submitterID,
		SubmittedByName: submitterName,
	})
}
