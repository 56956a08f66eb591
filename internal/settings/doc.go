// Package settings loads the optional settings.yaml file from the store
// directory and applies environment overrides.
//
// Example settings.yaml:
//
//	strategy: auto          # auto, callback, manual or device
//	callback:
//	  host: localhost
//	  port: 0               # 0 derives 8080+N for account<N>, else ephemeral
//	  timeout: 5m
//	  open_browser: true
//	defaults:
//	  gmail: work           # resolve "gmail" to account "work"
//	outlook_tenant: common
//	http_timeout: 30s
//	probe: true
package settings
