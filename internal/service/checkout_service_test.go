package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"casham-store/internal/events"
	"casham-store/internal/metrics"
	"casham-store/internal/repository"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type recordingSubmitter struct {
	mu     sync.Mutex
	forms  []url.Values
	failed error
	delay  time.Duration
}

func (s *recordingSubmitter) Submit(_ context.Context, values url.Values) error {
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	s.forms = append(s.forms, values)
	return nil
}

type recordingPublisher struct {
	events []events.OrderPlacedEvent
	failed error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, event events.OrderPlacedEvent) error {
	if p.failed != nil {
		return p.failed
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type checkoutFixture struct {
	carts     CartService
	checkout  CheckoutService
	submitter *recordingSubmitter
	publisher *recordingPublisher
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()

	carts := newTestCartService(t, repository.NewMemoryCartRepository(), nil)
	submitter := &recordingSubmitter{}
	publisher := &recordingPublisher{}

	return &checkoutFixture{
		carts: carts,
		checkout: NewCheckoutService(
			carts,
			submitter,
			publisher,
			nil,
			metrics.NewStoreMetricsWithRegisterer(prometheus.NewRegistry()),
			zap.NewNop(),
			1<<10,
		),
		submitter: submitter,
		publisher: publisher,
	}
}

func validRequest() CheckoutRequest {
	return CheckoutRequest{
		Name:       "Asha Rao",
		Phone:      "9876543210",
		Email:      "asha@example.com",
		Screenshot: &Upload{Filename: "payment.png", Data: pngHeader},
	}
}

func TestCheckoutService_SubmitsOrderAndClearsCart(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	cartID := uuid.New()

	_, err := f.carts.AddItem(ctx, cartID, 2, "30g", 1)
	require.NoError(t, err)

	receipt, err := f.checkout.Checkout(ctx, cartID, validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, receipt.Reference)
	assert.True(t, receipt.Amount.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 1, receipt.ItemCount)

	require.Len(t, f.submitter.forms, 1)
	form := f.submitter.forms[0]
	assert.Equal(t, "Asha Rao", form.Get("Name"))
	assert.Equal(t, "9876543210", form.Get("Phone"))
	assert.Equal(t, "asha@example.com", form.Get("Email"))
	assert.Equal(t, "90", form.Get("Amount"))
	assert.Equal(t, "Casham Face Pack (30g) x 1", form.Get("Items"))
	assert.Contains(t, form.Get("ScreenshotBase64"), "data:image/png;base64,")
	assert.Equal(t, receipt.Reference.String(), form.Get("Reference"))

	cart, err := f.carts.GetCart(ctx, cartID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, receipt.Reference, f.publisher.events[0].Reference)
	assert.Equal(t, cartID, f.publisher.events[0].CartID)
}

func TestCheckoutService_TrimsContactDetails(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	cartID := uuid.New()

	_, err := f.carts.AddItem(ctx, cartID, 1, "60g", 3)
	require.NoError(t, err)

	req := validRequest()
	req.Name = "  Asha Rao "
	req.Phone = " 9876543210"

	receipt, err := f.checkout.Checkout(ctx, cartID, req)
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(decimal.NewFromInt(210)), "free shipping from 200")
	assert.Equal(t, "Asha Rao", f.submitter.forms[0].Get("Name"))
}

func TestCheckoutService_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CheckoutRequest)
		field    string
		expected string
	}{
		{"missing name", func(r *CheckoutRequest) { r.Name = "  " }, "name", "Name is required"},
		{"missing phone", func(r *CheckoutRequest) { r.Phone = "" }, "phone", "Phone number is required"},
		{"short phone", func(r *CheckoutRequest) { r.Phone = "98765" }, "phone", "Invalid phone number"},
		{"phone with letters", func(r *CheckoutRequest) { r.Phone = "98765abcde" }, "phone", "Invalid phone number"},
		{"missing email", func(r *CheckoutRequest) { r.Email = "" }, "email", "Email is required"},
		{"bad email", func(r *CheckoutRequest) { r.Email = "asha@example" }, "email", "Invalid email address"},
		{"missing screenshot", func(r *CheckoutRequest) { r.Screenshot = nil }, "screenshot", "Payment screenshot is required"},
		{"not an image", func(r *CheckoutRequest) { r.Screenshot = &Upload{Data: []byte("plain text receipt")} }, "screenshot", "Payment screenshot must be an image"},
		{"too large", func(r *CheckoutRequest) {
			data := append([]byte{}, pngHeader...)
			r.Screenshot = &Upload{Data: append(data, make([]byte, 2<<10)...)}
		}, "screenshot", "Payment screenshot is too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t)
			ctx := context.Background()
			cartID := uuid.New()

			_, err := f.carts.AddItem(ctx, cartID, 1, "30g", 1)
			require.NoError(t, err)

			req := validRequest()
			tt.mutate(&req)

			_, err = f.checkout.Checkout(ctx, cartID, req)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Equal(t, tt.expected, verrs[0].Message)

			assert.Empty(t, f.submitter.forms)
			cart, err := f.carts.GetCart(ctx, cartID)
			require.NoError(t, err)
			assert.False(t, cart.IsEmpty())
		})
	}
}

func TestCheckoutService_ReportsEveryInvalidField(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.checkout.Checkout(context.Background(), uuid.New(), CheckoutRequest{})

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"name", "phone", "email", "screenshot"}, fields)
}

func TestCheckoutService_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.checkout.Checkout(context.Background(), uuid.New(), validRequest())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.submitter.forms)
}

func TestCheckoutService_SubmissionFailureKeepsCart(t *testing.T) {
	f := newCheckoutFixture(t)
	f.submitter.failed = errors.New("order sheet unavailable")
	ctx := context.Background()
	cartID := uuid.New()

	_, err := f.carts.AddItem(ctx, cartID, 1, "30g", 2)
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, cartID, validRequest())
	assert.ErrorIs(t, err, ErrSubmissionFailed)

	cart, err := f.carts.GetCart(ctx, cartID)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.ItemCount())
	assert.Empty(t, f.publisher.events)
}

func TestCheckoutService_PublishFailureDoesNotFailCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	f.publisher.failed = errors.New("kafka: client has run out of available brokers")
	ctx := context.Background()
	cartID := uuid.New()

	_, err := f.carts.AddItem(ctx, cartID, 1, "30g", 1)
	require.NoError(t, err)

	receipt, err := f.checkout.Checkout(ctx, cartID, validRequest())
	require.NoError(t, err)
	assert.NotNil(t, receipt)
}

// Property: any 10-digit phone passes and any other length is rejected
func TestProperty_PhoneMustBeTenDigits(t *testing.T) {
	svc := NewCheckoutService(nil, nil, nil, nil, nil, zap.NewNop(), 0).(*checkoutService)

	properties := gopter.NewProperties(nil)

	properties.Property("phone validity depends on digit count", prop.ForAll(
		func(chars []rune, n int) bool {
			digits := string(chars[:n])
			req := validRequest()
			req.Phone = digits

			_, err := svc.validateRequest(req)
			if len(digits) == 10 {
				return err == nil
			}
			return err != nil
		},
		gen.SliceOfN(20, gen.NumChar()),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCheckoutService_ConcurrentCheckoutsPostOnce(t *testing.T) {
	f := newCheckoutFixture(t)
	f.submitter.delay = 100 * time.Millisecond
	ctx := context.Background()
	cartID := uuid.New()

	_, err := f.carts.AddItem(ctx, cartID, 2, "30g", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.checkout.Checkout(ctx, cartID, validRequest())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrCheckoutInProgress) || errors.Is(err, ErrEmptyCart), "unexpected error: %v", err)
	}

	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.submitter.forms, 1)
}

func TestCheckoutService_ClaimIsReleasedAfterFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	cartID := uuid.New()

	_, err := f.carts.AddItem(ctx, cartID, 2, "30g", 1)
	require.NoError(t, err)

	f.submitter.failed = errors.New("sheet unavailable")
	_, err = f.checkout.Checkout(ctx, cartID, validRequest())
	require.ErrorIs(t, err, ErrSubmissionFailed)

	f.submitter.failed = nil
	_, err = f.checkout.Checkout(ctx, cartID, validRequest())
	require.NoError(t, err)
	assert.Len(t, f.submitter.forms, 1)
}
