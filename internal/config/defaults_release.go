//go:build release

package config

const defaultStaging = false
