// Package config loads yhub configuration. Defaults come first, an optional
// JSON or YAML config file overrides them, and YHUB_* environment variables
// override both.
//
// Example:
//
//	cfg, err := config.Load("/etc/yhub.yaml")
//	if err != nil { ... }
//	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
package config
