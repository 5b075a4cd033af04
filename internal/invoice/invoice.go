// Package invoice renders invoice and receipt documents from an order's
// frozen snapshot. Generation is pure: no catalog or storage reads.
package invoice

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

const (
	KindInvoice = "invoice"
	KindReceipt = "receipt"

	dateLayout = "January 02, 2006"
	notAvail   = "N/A"
)

type Company struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Email      string `json:"email"`
}

// DefaultCompany is used when no company details are configured.
var DefaultCompany = Company{
	Name:       "Bookstore Marketplace",
	Street:     "900 Villa Street",
	City:       "Mountain View",
	State:      "California",
	PostalCode: "94041",
	Country:    "United States",
	Email:      "contact@bookstore.com",
}

type Item struct {
	BookName   string `json:"book_name"`
	BookCover  string `json:"book_cover"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	TotalPrice string `json:"total_price"`
}

type Address struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

type Details struct {
	InvoiceNumber string `json:"invoice_number"`
	DateOfIssue   string `json:"date_of_issue"`
	DateDue       string `json:"date_due,omitempty"`
}

type Document struct {
	Kind            string  `json:"kind"`
	OrderID         string  `json:"order_id"`
	OrderDate       string  `json:"order_date"`
	OrderStatus     string  `json:"order_status"`
	PaymentMethod   string  `json:"payment_method"`
	OrderItems      []Item  `json:"order_items"`
	TotalAmount     string  `json:"total_amount"`
	InvoiceDetails  Details `json:"invoice_details"`
	CompanyDetails  Company `json:"company_details"`
	BillingAddress  Address `json:"billing_address"`
	ShippingAddress Address `json:"shipping_address"`
}

// JSON encodes the document. Identical documents encode to identical bytes.
func (d Document) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// Subject is the mail subject line for the document.
func (d Document) Subject() string {
	if d.Kind == KindReceipt {
		return "Receipt #" + d.OrderID
	}
	return "Invoice #" + d.OrderID
}

type Generator struct {
	Company         Company
	DueDays         int    // invoice due date offset from the order date
	CloudinaryCloud string // cloud name used to expand cover public ids
	DefaultCover    string
}

func NewGenerator(company Company, dueDays int, cloud, defaultCover string) *Generator {
	if company == (Company{}) {
		company = DefaultCompany
	}
	if dueDays <= 0 {
		dueDays = 30
	}
	if defaultCover == "" {
		defaultCover = "/static/default_book_cover.png"
	}
	return &Generator{Company: company, DueDays: dueDays, CloudinaryCloud: cloud, DefaultCover: defaultCover}
}

// Generate builds the document for o. A settled order gets a receipt,
// anything else an invoice with a due date.
func (g *Generator) Generate(o *orders.Order) Document {
	kind, prefix := KindInvoice, "INV-"
	if o.SettledAt != nil {
		kind, prefix = KindReceipt, "RCT-"
	}

	items := make([]Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, Item{
			BookName:   it.Title,
			BookCover:  g.coverURL(it.CoverURL),
			Quantity:   it.Quantity,
			UnitPrice:  Money(it.UnitPrice),
			TotalPrice: Money(it.Subtotal()),
		})
	}

	created := o.CreatedAt.UTC()
	details := Details{
		InvoiceNumber: prefix + shortID(o.ID),
		DateOfIssue:   created.Format(dateLayout),
	}
	if kind == KindInvoice {
		details.DateDue = created.Add(time.Duration(g.DueDays) * 24 * time.Hour).Format(dateLayout)
	}

	return Document{
		Kind:            kind,
		OrderID:         o.ID,
		OrderDate:       created.Format(dateLayout),
		OrderStatus:     string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		OrderItems:      items,
		TotalAmount:     Money(o.Total),
		InvoiceDetails:  details,
		CompanyDetails:  g.Company,
		BillingAddress:  address(o.Billing),
		ShippingAddress: address(o.Shipping),
	}
}

// coverURL expands a stored cover reference. Full URLs pass through; bare
// values are Cloudinary public ids.
func (g *Generator) coverURL(ref string) string {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case ref != "" && g.CloudinaryCloud != "":
		return "https://res.cloudinary.com/" + g.CloudinaryCloud + "/image/upload/" + strings.TrimPrefix(ref, "/")
	}
	return g.DefaultCover
}

// Money renders minor units as a fixed two-decimal amount.
func Money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

func address(a orders.Address) Address {
	return Address{
		FullName:   orNA(a.FullName),
		Street:     orNA(a.Street),
		City:       orNA(a.City),
		State:      orNA(a.State),
		PostalCode: orNA(a.PostalCode),
		Country:    orNA(a.Country),
		Email:      orNA(a.Email),
		Phone:      orNA(a.Phone),
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvail
	}
	return s
}
