package errors

import (
	"context"
	stderrors "errors"
)

// kindNames are the names recorded in job logs for each category.
var kindNames = map[ErrorCategory]string{
	CategoryValidation:         "ValidationError",
	CategoryNotFound:           "NotFoundError",
	CategoryConflict:           "ConflictError",
	CategoryQuota:              "QuotaError",
	CategoryConfig:             "ConfigError",
	CategoryCircuitOpen:        "CircuitOpenError",
	CategoryConfigFetch:        "ConfigFetchError",
	CategoryStorage:            "StorageError",
	CategoryTemplateValidation: "TemplateValidationError",
	CategoryAssetProcessing:    "AssetProcessingError",
	CategorySEOValidation:      "SEOValidationError",
	CategoryDeployment:         "DeploymentError",
	CategoryTimeout:            "TimeoutError",
	CategoryCanceled:           "CancelledError",
	CategoryInternal:           "InternalError",
}

func kindForCategory(c ErrorCategory) string {
	if name, ok := kindNames[c]; ok {
		return name
	}
	return "InternalError"
}

// KindOf returns the kind name of err. Context cancellation and deadline
// errors that were never classified map to CancelledError and TimeoutError.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	if classified, ok := AsClassified(err); ok {
		return classified.Kind()
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return kindNames[CategoryTimeout]
	case stderrors.Is(err, context.Canceled):
		return kindNames[CategoryCanceled]
	}
	return kindNames[CategoryInternal]
}
