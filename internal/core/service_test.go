package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/order"
	"github.com/orrn/printdispatch/internal/receipt"
	"github.com/orrn/printdispatch/internal/testutil"
)

type fixedOptions receipt.Options

func (o fixedOptions) ReceiptOptions() receipt.Options { return receipt.Options(o) }

type stubPrinter struct{ ok bool }

func (p stubPrinter) PrintNow(ctx context.Context, document, printerName string) bool { return p.ok }

func TestServiceEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, config.QueueConfig{})
	orders := order.NewMemoryProducer()
	orders.Put(&order.Snapshot{
		ID:       "o1",
		Number:   7,
		Type:     order.TypeDelivery,
		Items:    []order.Item{{Quantity: 1, Product: order.Product{Name: "Soup", Price: decimal.NewFromInt(12), CategoryID: "c"}}},
		Subtotal: decimal.NewFromInt(12),
		Total:    decimal.NewFromInt(12),
	})
	svc := NewService(q, stubPrinter{ok: true}, orders, fixedOptions{PaperWidth: 58})

	job, err := svc.EnqueueOrder(ctx, "o1", receipt.KindKitchen, "u1", "Caixa")
	testutil.AssertNotError(t, err)
	if !strings.Contains(job.Document, "1x Soup") || !strings.Contains(job.Document, "width:272px") {
		t.Errorf("unexpected document:\n%s", job.Document)
	}
	testutil.AssertEquals(t, job.SubmittedByName, "Caixa")

	if _, err := svc.EnqueueOrder(ctx, "o1", receipt.KindDeliverySummary, "u1", "Caixa"); !errors.Is(err, ErrIncompleteDetails) {
		t.Errorf("incomplete delivery: got %v", err)
	}
	if _, err := svc.EnqueueOrder(ctx, "nope", receipt.KindKitchen, "", ""); !errors.Is(err, order.ErrOrderNotFound) {
		t.Errorf("missing order: got %v", err)
	}

	svc.Enqueue(ctx, "", receipt.KindKitchen, "o1", "", "")
	stats, _ := q.GetStats(ctx)
	testutil.AssertEquals(t, stats.Pending, 1)

	testutil.AssertEquals(t, svc.PrintNow(ctx, "<p/>", ""), true)
	testutil.AssertEquals(t, NewService(q, nil, nil, nil).PrintNow(ctx, "<p/>", ""), false)
}
