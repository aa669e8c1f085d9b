package domain

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Form field names expected by the order sheet endpoint
const (
	FieldName       = "Name"
	FieldPhone      = "Phone"
	FieldEmail      = "Email"
	FieldAmount     = "Amount"
	FieldItems      = "Items"
	FieldScreenshot = "ScreenshotBase64"
	FieldReference  = "Reference"
)

// ContactDetails identifies the buyer
type ContactDetails struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// OrderSubmission is built once at checkout and discarded after it is sent
type OrderSubmission struct {
	Reference  uuid.UUID
	Contact    ContactDetails
	Screenshot string
	Items      string
	Amount     decimal.Decimal
	ItemCount  int
}

// OrderReceipt is what the buyer gets back after a successful checkout
type OrderReceipt struct {
	Reference   uuid.UUID       `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	ItemCount   int             `json:"item_count"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// NewOrderSubmission flattens the cart into the submission payload.
// Amount includes shipping. The reference travels with the form so the sheet
// can drop a row it has already recorded.
func NewOrderSubmission(reference uuid.UUID, contact ContactDetails, screenshotDataURL string, cart *Cart, totals Totals) *OrderSubmission {
	return &OrderSubmission{
		Reference:  reference,
		Contact:    contact,
		Screenshot: screenshotDataURL,
		Items:      ItemsSummary(cart.Lines),
		Amount:     totals.Total,
		ItemCount:  totals.ItemCount,
	}
}

// ItemsSummary renders lines as "Name (variant) x qty" joined by ", "
func ItemsSummary(lines []CartLine) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, fmt.Sprintf("%s (%s) x %d", line.ProductName, line.Variant, line.Quantity))
	}
	return strings.Join(parts, ", ")
}

// EncodeDataURL encodes raw bytes as a base64 data URL
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FormValues encodes the submission as the endpoint's form fields
func (o *OrderSubmission) FormValues() url.Values {
	values := url.Values{}
	values.Set(FieldReference, o.Reference.String())
	values.Set(FieldName, o.Contact.Name)
	values.Set(FieldPhone, o.Contact.Phone)
	values.Set(FieldEmail, o.Contact.Email)
	values.Set(FieldAmount, o.Amount.String())
	values.Set(FieldItems, o.Items)
	values.Set(FieldScreenshot, o.Screenshot)
	return values
}
