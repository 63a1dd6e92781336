// Package validation provides common validation utilities for configuration
// parameters across the stageflow library.
//
// Constructors and the config loader use these helpers so that every rejected
// parameter surfaces as a *errors.ValidationError with a consistent message
// and hint.
package validation
