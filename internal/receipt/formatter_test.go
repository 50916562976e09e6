package receipt

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orrn/printdispatch/internal/order"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(name, price, category string) order.Product {
	return order.Product{Name: name, Price: dec(price), CategoryID: category, CategoryName: category}
}

func baseSnapshot() *order.Snapshot {
	return &order.Snapshot{
		ID:            "ord-1",
		Number:        17,
		Type:          order.TypeDelivery,
		CreatedAt:     time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC),
		CustomerName:  "Ana",
		CustomerPhone: "11 90000-0000",
		Address:       "Rua das Flores",
		AddressNumber: "10",
		Neighborhood:  &order.Neighborhood{Name: "Centro"},
		PaymentMethod: "pix",
		Items: []order.Item{
			{Quantity: 1, Product: product("Burger", "50.00", "lanches")},
		},
		Subtotal: dec("50.00"),
		Total:    dec("50.00"),
	}
}

func TestFormatDeterministic(t *testing.T) {
	snap := baseSnapshot()
	opts := Options{PaperWidth: 58, Model: "epson", TrackingURL: "https://t.example/"}
	for _, kind := range []Kind{KindKitchen, KindDeliverySummary} {
		a := Format(snap, kind, opts)
		b := Format(snap, kind, opts)
		if a != b {
			t.Fatalf("%s: output differs between runs", kind)
		}
	}
}

func TestGroupByCategoryOrder(t *testing.T) {
	items := []order.Item{
		{Quantity: 1, Product: product("b1", "1", "B")},
		{Quantity: 1, Product: product("a1", "1", "A")},
		{Quantity: 1, Product: product("b2", "1", "B")},
		{Quantity: 1, Product: product("c1", "1", "C")},
	}
	groups := GroupByCategory(items)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	wantIDs := []string{"B", "A", "C"}
	for i, g := range groups {
		if g.ID != wantIDs[i] {
			t.Errorf("group %d: got %s, want %s", i, g.ID, wantIDs[i])
		}
	}
	if len(groups[0].Items) != 2 || groups[0].Items[0].Product.Name != "b1" || groups[0].Items[1].Product.Name != "b2" {
		t.Errorf("B group out of order: %+v", groups[0].Items)
	}

	snap := baseSnapshot()
	snap.Items = items
	out := Format(snap, KindKitchen, Options{})
	if strings.Count(out, ">B</div>") != 1 {
		t.Error("category B header should appear exactly once")
	}
	iB, iA, iC := strings.Index(out, ">B</div>"), strings.Index(out, ">A</div>"), strings.Index(out, ">C</div>")
	ib2 := strings.Index(out, "1x b2")
	if !(iB < ib2 && ib2 < iA && iA < iC) {
		t.Errorf("groups rendered out of order: B=%d b2=%d A=%d C=%d", iB, ib2, iA, iC)
	}
}

func TestPizzaRendering(t *testing.T) {
	snap := baseSnapshot()
	snap.Items = []order.Item{{
		Quantity: 1,
		Product:  product("Pizza", "60.00", "pizzas"),
		PizzaDetail: &order.PizzaDetail{
			SizeName: "Grande",
			Flavors: []order.Flavor{
				{Name: "flavor1", RemovedIngredients: []string{"cheese"}},
				{Name: "Flavor2", Observation: "well done"},
			},
			BorderName: "stuffed",
		},
	}}
	out := Format(snap, KindKitchen, Options{})

	for _, want := range []string{"1/2 FLAVOR1", "WITHOUT CHEESE", "2/2 FLAVOR2", "Obs: well done", "<b>WITHOUT CHEESE</b>"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
	if n := strings.Count(out, "Border:"); n != 1 {
		t.Errorf("border lines: got %d, want 1", n)
	}
	if strings.Index(out, "1/2 FLAVOR1") > strings.Index(out, "WITHOUT CHEESE") ||
		strings.Index(out, "WITHOUT CHEESE") > strings.Index(out, "2/2 FLAVOR2") {
		t.Error("removal line must follow its flavor")
	}
}

func TestKitchenTicketHasNoPrices(t *testing.T) {
	snap := baseSnapshot()
	snap.Items[0].SelectedAddons = []order.Addon{{Name: "Bacon", Price: dec("4.00")}}
	out := Format(snap, KindKitchen, Options{})
	for _, unwanted := range []string{"50.00", "4.00", "Subtotal", "Total"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("kitchen ticket should not contain %q", unwanted)
		}
	}
	if !strings.Contains(out, "+ Bacon") {
		t.Error("addon missing")
	}
}

func TestDeliverySummaryWithoutFee(t *testing.T) {
	snap := baseSnapshot()
	out := Format(snap, KindDeliverySummary, Options{})
	if strings.Contains(out, "Delivery fee") {
		t.Error("zero delivery fee must not be rendered")
	}
	if !strings.Contains(out, "<span>Total</span><span>50.00</span>") {
		t.Errorf("total line missing:\n%s", out)
	}

	snap.DeliveryFee = dec("7")
	snap.Total = dec("57")
	out = Format(snap, KindDeliverySummary, Options{DecimalSeparator: ","})
	if !strings.Contains(out, "<span>Delivery fee</span><span>7,00</span>") {
		t.Error("fee line missing or wrong separator")
	}
	if strings.Contains(out, "57.00") {
		t.Error("separator must be consistent within a document")
	}
}

func TestZeroPriceAddonAndEmptyObservation(t *testing.T) {
	snap := baseSnapshot()
	snap.Items[0].SelectedAddons = []order.Addon{{Name: "Sem cebola", Price: decimal.Zero}}
	snap.Items[0].Observation = "   "
	out := Format(snap, KindDeliverySummary, Options{})
	if !strings.Contains(out, `<div class="sub">+ Sem cebola</div>`) {
		t.Errorf("zero-price addon should render without price:\n%s", out)
	}
	if strings.Contains(out, "Obs:") {
		t.Error("blank observation must not render an Obs line")
	}
}

func TestCashChange(t *testing.T) {
	snap := baseSnapshot()
	snap.PaymentMethod = "dinheiro"
	snap.Subtotal, snap.Total = dec("42.00"), dec("42.00")

	tendered := dec("50.00")
	snap.ChangeFor = &tendered
	out := Format(snap, KindDeliverySummary, Options{})
	if !strings.Contains(out, "<span>Change</span><span>8.00</span>") {
		t.Errorf("change line missing:\n%s", out)
	}
	if strings.Contains(out, "No change needed") {
		t.Error("marker must not appear when change is due")
	}

	exact := dec("42.00")
	snap.ChangeFor = &exact
	out = Format(snap, KindDeliverySummary, Options{})
	if !strings.Contains(out, "No change needed") {
		t.Error("expected no-change marker")
	}
	if strings.Contains(out, "<span>Change</span>") {
		t.Error("no numeric change line expected")
	}
}

func TestLayoutFollowsPaperAndModel(t *testing.T) {
	out := Format(baseSnapshot(), KindKitchen, Options{PaperWidth: 58, Model: "bematech"})
	if !strings.Contains(out, ".receipt{width:256px;") {
		t.Error("58mm bematech layout not applied")
	}
	out = Format(baseSnapshot(), KindKitchen, Options{PaperWidth: 99, Model: "unknown"})
	if !strings.Contains(out, ".receipt{width:368px;") {
		t.Error("unknown width/model should fall back to 80mm generic")
	}
}

func TestTrackingQR(t *testing.T) {
	snap := baseSnapshot()
	out := Format(snap, KindDeliverySummary, Options{TrackingURL: "https://t.example/"})
	if !strings.Contains(out, `src="data:image/png;base64,`) {
		t.Error("delivery summary should embed the tracking QR")
	}
	out = Format(snap, KindKitchen, Options{TrackingURL: "https://t.example/"})
	if strings.Contains(out, "data:image/png") {
		t.Error("kitchen ticket never carries a QR")
	}
}

func TestEscaping(t *testing.T) {
	snap := baseSnapshot()
	snap.Items[0].Product.Name = "<script>x</script>"
	out := Format(snap, KindKitchen, Options{})
	if strings.Contains(out, "<script>") {
		t.Error("item names must be escaped")
	}
}
