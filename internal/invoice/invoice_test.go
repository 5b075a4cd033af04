package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

func sampleOrder() *orders.Order {
	created := time.Date(2025, 2, 3, 14, 0, 0, 0, time.UTC)
	return &orders.Order{
		ID:         "3f2a9c1e-77aa-4b1c-9d3e-000000000001",
		CustomerID: "c1",
		Items: []orders.LineItem{
			{BookID: "b1", Title: "Dune", CoverURL: "covers/dune", UnitPrice: 1599, Quantity: 2},
			{BookID: "b2", Title: "Emma", CoverURL: "https://img.example.com/emma.jpg", UnitPrice: 500, Quantity: 1},
			{BookID: "b3", Title: "Ulysses", UnitPrice: 1000, Quantity: 1},
		},
		Billing:       orders.Address{FullName: "Ada Lovelace", Email: "ada@example.com", Street: "1 Main", City: "Kampala", Country: "UG"},
		Shipping:      orders.Address{FullName: "Ada Lovelace", Street: "1 Main", City: "Kampala", Country: "UG"},
		PaymentMethod: orders.MethodCard,
		Status:        orders.StatusPending,
		Total:         4698,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestGenerateInvoice(t *testing.T) {
	g := NewGenerator(Company{}, 30, "demo", "")
	doc := g.Generate(sampleOrder())

	assert.Equal(t, KindInvoice, doc.Kind)
	assert.Equal(t, "INV-3F2A9C1E", doc.InvoiceDetails.InvoiceNumber)
	assert.Equal(t, "February 03, 2025", doc.OrderDate)
	assert.Equal(t, "February 03, 2025", doc.InvoiceDetails.DateOfIssue)
	assert.Equal(t, "March 05, 2025", doc.InvoiceDetails.DateDue)
	assert.Equal(t, "46.98", doc.TotalAmount)
	assert.Equal(t, DefaultCompany, doc.CompanyDetails)
	assert.Equal(t, "Invoice #"+doc.OrderID, doc.Subject())

	require.Len(t, doc.OrderItems, 3)
	assert.Equal(t, Item{
		BookName: "Dune", BookCover: "https://res.cloudinary.com/demo/image/upload/covers/dune",
		Quantity: 2, UnitPrice: "15.99", TotalPrice: "31.98",
	}, doc.OrderItems[0])
	assert.Equal(t, "https://img.example.com/emma.jpg", doc.OrderItems[1].BookCover)
	assert.Equal(t, "/static/default_book_cover.png", doc.OrderItems[2].BookCover)

	assert.Equal(t, "N/A", doc.BillingAddress.State)
	assert.Equal(t, "N/A", doc.BillingAddress.Phone)
	assert.Equal(t, "N/A", doc.ShippingAddress.Email)
}

func TestGenerateReceiptOnceSettled(t *testing.T) {
	o := sampleOrder()
	settled := o.CreatedAt.Add(time.Hour)
	o.SettledAt = &settled
	o.Status = orders.StatusPaid

	doc := NewGenerator(Company{}, 30, "", "https://cdn.example.com/none.png").Generate(o)
	assert.Equal(t, KindReceipt, doc.Kind)
	assert.Equal(t, "RCT-3F2A9C1E", doc.InvoiceDetails.InvoiceNumber)
	assert.Empty(t, doc.InvoiceDetails.DateDue)
	assert.Equal(t, "paid", doc.OrderStatus)
	// without a cloud name public ids cannot be expanded
	assert.Equal(t, "https://cdn.example.com/none.png", doc.OrderItems[0].BookCover)
	assert.Equal(t, "Receipt #"+o.ID, doc.Subject())
}

func TestDocumentJSONIsDeterministic(t *testing.T) {
	g := NewGenerator(Company{Name: "Shop"}, 14, "demo", "")
	a, err := g.Generate(sampleOrder()).JSON()
	require.NoError(t, err)
	b, err := g.Generate(sampleOrder()).JSON()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"total_amount":"46.98"`)
	assert.NotContains(t, string(a), `"date_due":""`)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "0.00", Money(0))
	assert.Equal(t, "0.05", Money(5))
	assert.Equal(t, "1234.50", Money(123450))
}
