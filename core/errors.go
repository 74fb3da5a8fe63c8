package core

import (
	"errors"
	"fmt"
)

// Category classifies an operational failure. The set is closed: transport
// layers map their own error shapes onto one of these at the boundary that
// raises them, and nothing above the adapter template sees anything else.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryParsing        Category = "parsing"
	CategoryValidation     Category = "validation"
	CategoryTimeout        Category = "timeout"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryResource       Category = "resource"
	CategoryBrowser        Category = "browser"
	CategoryFormFilling    Category = "form_filling"
	CategoryNavigation     Category = "navigation"
	CategoryCaptcha        Category = "captcha"
	CategoryUnknown        Category = "unknown"
)

// Severity grades how bad a failure is for the system as a whole.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityEmergency
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// RecoveryAction is what the error handler decided to do about a failure.
type RecoveryAction string

const (
	ActionRetry    RecoveryAction = "retry"
	ActionFallback RecoveryAction = "fallback"
	ActionSkip     RecoveryAction = "skip"
	ActionAbort    RecoveryAction = "abort"
	ActionEscalate RecoveryAction = "escalate"
)

// Standard sentinel errors for comparison using errors.Is()
var (
	// Adapter and registry errors
	ErrAdapterNotFound  = errors.New("adapter not found")
	ErrAdapterInactive  = errors.New("adapter not active")
	ErrAdapterExists    = errors.New("adapter already registered")
	ErrNoParserStrategy = errors.New("no parsing strategy configured")

	// Admission errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrSiteBlocked        = errors.New("site is blocked")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotInitialized = errors.New("not initialized")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCaptchaDetected    = errors.New("captcha detected")
	ErrSessionClosed      = errors.New("session closed")

	// Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrStoreUnavailable = errors.New("state store unavailable")
)

// CrawlError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type CrawlError struct {
	Op       string   // Operation that failed (e.g., "template.Navigate")
	Site     string   // Site or adapter involved
	Category Category // Taxonomy category
	Severity Severity // How bad this is
	Message  string   // Human-readable message
	Err      error    // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *CrawlError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Site != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Site, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Category)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// NewCrawlError creates a new CrawlError
func NewCrawlError(op, site string, category Category, err error) *CrawlError {
	return &CrawlError{
		Op:       op,
		Site:     site,
		Category: category,
		Severity: DefaultSeverity(category),
		Err:      err,
	}
}

// CategoryOf extracts the taxonomy category from an error chain.
// Errors that never passed through the taxonomy come back as unknown.
func CategoryOf(err error) Category {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Category
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimit
	case errors.Is(err, ErrTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrConnectionFailed):
		return CategoryNetwork
	case errors.Is(err, ErrCaptchaDetected):
		return CategoryCaptcha
	}
	return CategoryUnknown
}

// DefaultSeverity maps a category to its default severity grade.
func DefaultSeverity(category Category) Severity {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryNavigation:
		return SeverityMedium
	case CategoryParsing, CategoryValidation, CategoryFormFilling:
		return SeverityLow
	case CategoryAuthentication, CategoryCaptcha, CategoryBrowser:
		return SeverityHigh
	case CategoryRateLimit, CategoryResource:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryNetwork, CategoryTimeout, CategoryNavigation, CategoryBrowser:
		return true
	}
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrTimeout)
}

// IsRateLimited checks if an error represents a rate-limit rejection
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited) || CategoryOf(err) == CategoryRateLimit
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsStateError checks if an error is related to invalid state transitions
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotInitialized)
}
