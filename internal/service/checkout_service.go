package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"

	"casham-store/internal/cache"
	"casham-store/internal/domain"
	"casham-store/internal/events"
	"casham-store/internal/logger"
	"casham-store/internal/metrics"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxScreenshotBytes = 5 << 20

	publishTimeout = 5 * time.Second
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrSubmissionFailed   = errors.New("order submission failed")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

var (
	phonePattern = regexp.MustCompile(`^\d{10}$`)
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
)

// Upload is a file received with the checkout form
type Upload struct {
	Filename string
	Data     []byte
}

// CheckoutRequest is the buyer's contact details plus the payment screenshot
type CheckoutRequest struct {
	Name       string  `json:"name" validate:"required"`
	Phone      string  `json:"phone" validate:"required,phone"`
	Email      string  `json:"email" validate:"required,contact_email"`
	Screenshot *Upload `json:"-"`
}

// FieldError is one failed form field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists every failed field of a checkout form
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	messages := make([]string, 0, len(v))
	for _, e := range v {
		messages = append(messages, e.Message)
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// OrderSubmitter delivers an encoded order form
type OrderSubmitter interface {
	Submit(ctx context.Context, values url.Values) error
}

// CheckoutService defines the interface for placing orders
type CheckoutService interface {
	Checkout(ctx context.Context, cartID uuid.UUID, req CheckoutRequest) (*domain.OrderReceipt, error)
}

type checkoutService struct {
	carts              CartService
	submitter          OrderSubmitter
	publisher          events.Publisher
	locks              cache.CheckoutLocks
	metrics            *metrics.StoreMetrics
	logger             *zap.Logger
	maxScreenshotBytes int64
	validate           *validator.Validate
}

// NewCheckoutService creates a new instance of CheckoutService. A nil locks
// claims carts within this process only.
func NewCheckoutService(
	carts CartService,
	submitter OrderSubmitter,
	publisher events.Publisher,
	locks cache.CheckoutLocks,
	storeMetrics *metrics.StoreMetrics,
	log *zap.Logger,
	maxScreenshotBytes int64,
) CheckoutService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if locks == nil {
		locks = cache.NewLocalCheckoutLocks()
	}
	if maxScreenshotBytes <= 0 {
		maxScreenshotBytes = DefaultMaxScreenshotBytes
	}
	return &checkoutService{
		carts:              carts,
		submitter:          submitter,
		publisher:          publisher,
		locks:              locks,
		metrics:            storeMetrics,
		logger:             log,
		maxScreenshotBytes: maxScreenshotBytes,
		validate:           newCheckoutValidator(),
	}
}

// Checkout validates the form, submits the order and clears the cart. The
// cart is kept when submission fails so the buyer can retry. One checkout
// runs per cart at a time; a concurrent one gets ErrCheckoutInProgress.
func (s *checkoutService) Checkout(ctx context.Context, cartID uuid.UUID, req CheckoutRequest) (*domain.OrderReceipt, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)

	screenshot, err := s.validateRequest(req)
	if err != nil {
		s.metrics.RecordOrderFailed(metrics.ReasonValidation)
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, cartID)
	if err != nil {
		if errors.Is(err, cache.ErrCheckoutClaimed) {
			s.metrics.RecordOrderFailed(metrics.ReasonInProgress)
			return nil, ErrCheckoutInProgress
		}
		return nil, fmt.Errorf("failed to claim cart for checkout: %w", err)
	}
	defer release()

	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		s.metrics.RecordOrderFailed(metrics.ReasonEmptyCart)
		return nil, ErrEmptyCart
	}

	contact := domain.ContactDetails{Name: req.Name, Phone: req.Phone, Email: req.Email}
	totals := s.carts.ShippingPolicy().Totals(cart)
	submission := domain.NewOrderSubmission(uuid.New(), contact, screenshot, cart, totals)

	start := time.Now()
	err = s.submitter.Submit(ctx, submission.FormValues())
	s.metrics.RecordSubmissionDuration(time.Since(start))
	if err != nil {
		s.metrics.RecordOrderFailed(metrics.ReasonUpstream)
		s.logger.Error("Order submission failed",
			logger.CartID(cartID),
			zap.String("amount", submission.Amount.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	receipt := &domain.OrderReceipt{
		Reference:   submission.Reference,
		Amount:      submission.Amount,
		ItemCount:   submission.ItemCount,
		SubmittedAt: time.Now().UTC(),
	}

	s.metrics.RecordOrderSubmitted(receipt.Amount.InexactFloat64())
	s.logger.Info("Order submitted",
		logger.CartID(cartID),
		zap.String("reference", receipt.Reference.String()),
		zap.String("amount", receipt.Amount.String()),
		zap.Int("item_count", receipt.ItemCount),
	)

	// the order is recorded; a failed clear only leaves stale lines behind
	if err := s.carts.ClearCart(ctx, cartID); err != nil {
		s.logger.Error("Failed to clear cart after checkout", logger.CartID(cartID), zap.Error(err))
	}

	s.publishOrderPlaced(ctx, cartID, submission, receipt)

	return receipt, nil
}

func (s *checkoutService) publishOrderPlaced(ctx context.Context, cartID uuid.UUID, submission *domain.OrderSubmission, receipt *domain.OrderReceipt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := events.OrderPlacedEvent{
		Reference:  receipt.Reference,
		CartID:     cartID,
		Name:       submission.Contact.Name,
		Email:      submission.Contact.Email,
		Items:      submission.Items,
		Amount:     receipt.Amount,
		ItemCount:  receipt.ItemCount,
		OccurredAt: receipt.SubmittedAt,
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Warn("Failed to publish order event",
			zap.String("reference", receipt.Reference.String()),
			zap.Error(err),
		)
	}
}

// validateRequest checks every field and returns the screenshot as a data URL
func (s *checkoutService) validateRequest(req CheckoutRequest) (string, error) {
	var errs ValidationErrors

	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return "", fmt.Errorf("failed to validate checkout form: %w", err)
		}
		for _, e := range fieldErrs {
			errs = append(errs, FieldError{Field: e.Field(), Message: contactMessage(e)})
		}
	}

	dataURL, message := s.checkScreenshot(req.Screenshot)
	if message != "" {
		errs = append(errs, FieldError{Field: "screenshot", Message: message})
	}

	if len(errs) > 0 {
		return "", errs
	}
	return dataURL, nil
}

func (s *checkoutService) checkScreenshot(upload *Upload) (string, string) {
	if upload == nil || len(upload.Data) == 0 {
		return "", "Payment screenshot is required"
	}
	if int64(len(upload.Data)) > s.maxScreenshotBytes {
		return "", "Payment screenshot is too large"
	}

	mtype := mimetype.Detect(upload.Data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", "Payment screenshot must be an image"
	}

	return domain.EncodeDataURL(mtype.String(), upload.Data), ""
}

func newCheckoutValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "contact_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

func contactMessage(e validator.FieldError) string {
	switch e.Field() + "." + e.Tag() {
	case "name.required":
		return "Name is required"
	case "phone.required":
		return "Phone number is required"
	case "phone.phone":
		return "Invalid phone number"
	case "email.required":
		return "Email is required"
	case "email.contact_email":
		return "Invalid email address"
	default:
		return "Invalid value"
	}
}
