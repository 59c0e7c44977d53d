// Package validation provides common validation utilities for configuration
// parameters across the capflow library.
//
// Every helper returns a *errors.ValidationError carrying the module and
// field name so that constructors can surface consistent messages.
package validation
