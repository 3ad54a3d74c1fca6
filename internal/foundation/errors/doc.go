// Package errors provides the classified error primitives shared by every
// storebuilder component.
//
// A ClassifiedError carries a category, a severity, a retry hint and a small
// context map. Categories map one-to-one onto the error kinds recorded in job
// logs (see KindOf) and onto HTTP status codes (see HTTPErrorAdapter).
//
// Example usage:
//
//	err := errors.DeploymentError("upload failed").
//		WithCause(uploadErr).
//		WithContext("target", target.Name()).
//		Build()
package errors
