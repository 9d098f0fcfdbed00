//go:build !release

package config

// Development builds talk to the ACME staging directory unless told otherwise.
const defaultStaging = true
