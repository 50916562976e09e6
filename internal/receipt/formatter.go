// Package receipt renders order snapshots into self-contained HTML documents
// sized for a thermal printer.
package receipt

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/orrn/printdispatch/internal/order"
)

type Kind string

const (
	KindKitchen         Kind = "kitchen"
	KindDeliverySummary Kind = "delivery_summary"
)

func (k Kind) Valid() bool {
	return k == KindKitchen || k == KindDeliverySummary
}

type Options struct {
	PaperWidth       int
	Model            string
	DecimalSeparator string
	// TrackingURL, when set, adds a QR code of TrackingURL+order id to
	// delivery summaries.
	TrackingURL string
}

const qrSize = 160

type formatter struct {
	sb   strings.Builder
	opts Options
}

// Format renders snap as a kitchen ticket or delivery summary. Output is a
// pure function of its inputs. Callers check order.IsDeliveryDetailsFilled
// before asking for a delivery summary.
func Format(snap *order.Snapshot, kind Kind, opts Options) string {
	if opts.DecimalSeparator == "" {
		opts.DecimalSeparator = "."
	}
	f := &formatter{opts: opts}

	f.open()
	f.header(snap, kind)
	f.hr()
	for _, g := range GroupByCategory(snap.Items) {
		f.category(g.Name)
		for _, item := range g.Items {
			f.item(item, kind)
		}
	}
	f.hr()
	if kind == KindDeliverySummary {
		f.totals(snap)
	}
	if obs := strings.TrimSpace(snap.Observation); obs != "" {
		f.line("obs", "Obs: "+obs)
	}
	if kind == KindDeliverySummary && opts.TrackingURL != "" {
		f.qr(opts.TrackingURL + snap.ID)
	}
	f.close()

	return f.sb.String()
}

// Group is the set of items sharing one product category.
type Group struct {
	ID    string
	Name  string
	Items []order.Item
}

// GroupByCategory partitions items by category, keeping the order in which
// each category is first seen and the relative order of items inside a group.
func GroupByCategory(items []order.Item) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, item := range items {
		id := item.Product.CategoryID
		i, ok := index[id]
		if !ok {
			name := item.Product.CategoryName
			if name == "" {
				name = id
			}
			groups = append(groups, Group{ID: id, Name: name})
			i = len(groups) - 1
			index[id] = i
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

func (f *formatter) open() {
	width := ContentWidth(f.opts.PaperWidth, f.opts.Model)
	f.sb.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><style>\n")
	f.sb.WriteString("body{margin:0;background:#fff;color:#000;font-family:monospace;font-size:14px}\n")
	fmt.Fprintf(&f.sb, ".receipt{width:%dpx;overflow-wrap:break-word}\n", width)
	f.sb.WriteString(".title{text-align:center;font-weight:bold;font-size:18px}\n")
	f.sb.WriteString(".category{font-weight:bold;margin-top:6px;border-bottom:1px dashed #000}\n")
	f.sb.WriteString(".row{display:flex;justify-content:space-between}\n")
	f.sb.WriteString(".sub{padding-left:12px}\n.removed{padding-left:24px;font-weight:bold}\n")
	f.sb.WriteString(".total{font-weight:bold;font-size:16px}\n.qr{display:block;margin:8px auto}\n")
	f.sb.WriteString("hr{border:0;border-top:1px dashed #000}\n")
	f.sb.WriteString("</style></head><body><div class=\"receipt\">\n")
}

func (f *formatter) close() {
	f.sb.WriteString("</div></body></html>\n")
}

func (f *formatter) hr() {
	f.sb.WriteString("<hr>\n")
}

func (f *formatter) line(class, text string) {
	fmt.Fprintf(&f.sb, "<div class=\"%s\">%s</div>\n", class, html.EscapeString(text))
}

func (f *formatter) emphasized(class, text string) {
	fmt.Fprintf(&f.sb, "<div class=\"%s\"><b>%s</b></div>\n", class, html.EscapeString(text))
}

func (f *formatter) priced(class, text string, amount decimal.Decimal) {
	fmt.Fprintf(&f.sb, "<div class=\"row %s\"><span>%s</span><span>%s</span></div>\n",
		class, html.EscapeString(text), f.money(amount))
}

func (f *formatter) money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if f.opts.DecimalSeparator != "." {
		s = strings.Replace(s, ".", f.opts.DecimalSeparator, 1)
	}
	return s
}

func (f *formatter) header(snap *order.Snapshot, kind Kind) {
	if kind == KindKitchen {
		f.line("title", "KITCHEN TICKET")
	} else {
		f.line("title", "DELIVERY SUMMARY")
	}
	f.line("title", fmt.Sprintf("Order #%d", snap.Number))
	f.line("meta", "Type: "+strings.ToUpper(string(snap.Type)))
	if !snap.CreatedAt.IsZero() {
		f.line("meta", snap.CreatedAt.Format("02/01/2006 15:04"))
	}
	if snap.CustomerName != "" {
		f.line("meta", "Customer: "+snap.CustomerName)
	}
	if kind != KindDeliverySummary {
		return
	}
	if snap.CustomerPhone != "" {
		f.line("meta", "Phone: "+snap.CustomerPhone)
	}
	if snap.Type == order.TypeDelivery {
		addr := snap.Address
		if snap.AddressNumber != "" {
			addr += ", " + snap.AddressNumber
		}
		if addr != "" {
			f.line("meta", "Address: "+addr)
		}
		if snap.Neighborhood != nil && snap.Neighborhood.Name != "" {
			f.line("meta", "Neighborhood: "+snap.Neighborhood.Name)
		}
		if snap.Reference != "" {
			f.line("meta", "Reference: "+snap.Reference)
		}
	}
}

func (f *formatter) category(name string) {
	f.line("category", strings.ToUpper(name))
}

func (f *formatter) item(item order.Item, kind Kind) {
	title := fmt.Sprintf("%dx %s", item.Quantity, item.Product.Name)
	if item.PizzaDetail != nil && item.PizzaDetail.SizeName != "" {
		title += " (" + item.PizzaDetail.SizeName + ")"
	}
	if kind == KindDeliverySummary {
		f.priced("item", title, item.LineTotal())
	} else {
		f.emphasized("item", title)
	}

	if item.PizzaDetail != nil {
		f.pizza(item.PizzaDetail)
	}

	for _, addon := range item.SelectedAddons {
		text := "+ " + addon.Name
		if kind == KindDeliverySummary && !addon.Price.IsZero() {
			f.priced("sub", text, addon.Price)
		} else {
			f.line("sub", text)
		}
	}

	if obs := strings.TrimSpace(item.Observation); obs != "" {
		f.line("sub", "Obs: "+obs)
	}
}

// pizza renders flavors as i/N lines, each followed by its removals and
// note. The border is shared by the whole pizza and printed once.
func (f *formatter) pizza(p *order.PizzaDetail) {
	n := len(p.Flavors)
	for i, flavor := range p.Flavors {
		f.line("sub", fmt.Sprintf("%d/%d %s", i+1, n, strings.ToUpper(flavor.Name)))
		for _, ingredient := range flavor.RemovedIngredients {
			if strings.TrimSpace(ingredient) == "" {
				continue
			}
			f.emphasized("removed", "WITHOUT "+strings.ToUpper(ingredient))
		}
		if obs := strings.TrimSpace(flavor.Observation); obs != "" {
			f.line("removed", "Obs: "+obs)
		}
	}
	if p.BorderName != "" {
		f.line("sub", "Border: "+p.BorderName)
	}
}

func (f *formatter) totals(snap *order.Snapshot) {
	f.priced("subtotal", "Subtotal", snap.Subtotal)
	if snap.DeliveryFee.IsPositive() {
		f.priced("fee", "Delivery fee", snap.DeliveryFee)
	}
	f.priced("total", "Total", snap.Total)
	if snap.PaymentMethod != "" {
		f.line("payment", "Payment: "+snap.PaymentMethod)
	}
	if !snap.IsCash() {
		return
	}
	if snap.ChangeFor != nil {
		change := snap.ChangeFor.Sub(snap.Total)
		if change.IsPositive() {
			f.priced("payment", "Pay with", *snap.ChangeFor)
			f.priced("change", "Change", change)
			return
		}
	}
	f.line("change", "No change needed")
}

func (f *formatter) qr(content string) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		// content too long for a QR symbol
		return
	}
	fmt.Fprintf(&f.sb, "<img class=\"qr\" width=\"%d\" height=\"%d\" src=\"data:image/png;base64,%s\">\n",
		qrSize, qrSize, base64.StdEncoding.EncodeToString(png))
}
