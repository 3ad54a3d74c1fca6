// Package assets is the asset optimization pipeline. It turns the raw media
// a rendered store references into resized, re-encoded variants stored in a
// content-addressed object store, with a blur placeholder and dominant color
// for each image. Records are keyed by the hash of the source bytes and the
// transform spec, so identical inputs are processed once across jobs and
// tenants.
package assets
