// Package fit turns a single intensity profile into a displacement estimate
// for two independently configured peaks: the moving peak and the reference
// peak.
//
// Each peak carries a model, a pixel window and a warm-start estimate. The
// estimate starts at DefaultEstimate and is replaced only by the parameters
// of a converged fit, so a slowly drifting signal is tracked from the last
// good answer instead of from scratch. A failed fit leaves the estimate
// untouched and simply omits that peak from the Result.
//
// The package is not safe for concurrent use. The fitting worker owns one
// Engine and drives it from a single goroutine.
package fit
