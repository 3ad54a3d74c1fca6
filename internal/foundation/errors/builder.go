package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// WithContextMap adds multiple context values.
func (b *ErrorBuilder) WithContextMap(ctx ErrorContext) *ErrorBuilder {
	b.context = b.context.Merge(ctx)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Warning sets the severity to warning.
func (b *ErrorBuilder) Warning() *ErrorBuilder {
	return b.WithSeverity(SeverityWarning)
}

// Retryable sets the retry strategy to backoff.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	return b.WithRetry(RetryBackoff)
}

// RateLimit sets the retry strategy to rate limit.
func (b *ErrorBuilder) RateLimit() *ErrorBuilder {
	return b.WithRetry(RetryRateLimit)
}

// UserAction sets the retry strategy to require user action.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors for the pipeline's error kinds.

// ValidationError creates a request validation error.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).UserAction()
}

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal().UserAction()
}

// NotFoundError creates a not-found error.
func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

// ConflictError creates a state conflict error.
func ConflictError(message string) *ErrorBuilder {
	return NewError(CategoryConflict, message)
}

// QuotaError creates a capacity error.
func QuotaError(message string) *ErrorBuilder {
	return NewError(CategoryQuota, message).RateLimit()
}

// CircuitOpenError creates a fail-fast error for an open breaker.
func CircuitOpenError(message string) *ErrorBuilder {
	return NewError(CategoryCircuitOpen, message).RateLimit()
}

// ConfigFetchError creates a tenant or catalog fetch error.
func ConfigFetchError(message string) *ErrorBuilder {
	return NewError(CategoryConfigFetch, message).Fatal().Retryable()
}

// StorageError creates an asset storage error.
func StorageError(message string) *ErrorBuilder {
	return NewError(CategoryStorage, message).Fatal().Retryable()
}

// TemplateValidationError creates a template validation error.
func TemplateValidationError(message string) *ErrorBuilder {
	return NewError(CategoryTemplateValidation, message).Fatal().UserAction()
}

// AssetProcessingError creates a recoverable per-asset error.
func AssetProcessingError(message string) *ErrorBuilder {
	return NewError(CategoryAssetProcessing, message).Warning()
}

// SEOValidationError creates a page-local blocking error.
func SEOValidationError(message string) *ErrorBuilder {
	return NewError(CategorySEOValidation, message)
}

// DeploymentError creates a per-target deployment error.
func DeploymentError(message string) *ErrorBuilder {
	return NewError(CategoryDeployment, message).Retryable()
}

// TimeoutError creates a job timeout error.
func TimeoutError(message string) *ErrorBuilder {
	return NewError(CategoryTimeout, message).Fatal()
}

// CanceledError creates a cancellation error.
func CanceledError(message string) *ErrorBuilder {
	return NewError(CategoryCanceled, message)
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
