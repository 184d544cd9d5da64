// Package config provides configuration loading and validation for Haven Core.
//
// Configuration is loaded from a YAML file with environment variable overrides.
// The loading order is: defaults → file → environment (HAVEN_* variables).
//
// All durations in the file are plain integers (seconds or milliseconds, named
// per field); accessor methods convert them to time.Duration for callers.
package config
