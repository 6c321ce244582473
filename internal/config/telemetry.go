package config

import (
	"net/url"
	"strings"
)

// TelemetryWarnings returns human-friendly warnings for telemetry settings
// that are accepted but probably not what the operator meant.
func TelemetryWarnings(endpoint string, insecure, skipVerify bool) []string {
	var warnings []string

	if endpoint == "" {
		return warnings
	}

	u, err := url.Parse(endpoint)
	hasScheme := err == nil && u.Scheme != "" && u.Host != ""

	usesHTTP := false
	if hasScheme {
		usesHTTP = u.Scheme == "http" || u.Scheme == "https"
	} else if strings.Contains(endpoint, ":4318") {
		usesHTTP = true
	}

	if usesHTTP && hasScheme {
		if u.Scheme == "http" && u.Port() == "4317" {
			warnings = append(warnings, "endpoint uses http:// on port 4317, which is conventionally OTLP/gRPC; use 'localhost:4317' (no scheme) for gRPC or http(s) on port 4318 for OTLP/HTTP")
		}
		if u.Scheme == "http" && !insecure {
			warnings = append(warnings, "endpoint uses http:// but telemetry.insecure=false; http is plaintext, so set insecure=true or use https://")
		}
		if u.Scheme == "https" && insecure {
			warnings = append(warnings, "endpoint uses https:// but telemetry.insecure=true; set insecure=false for TLS or use http:// for plaintext")
		}
	}

	// skip_tls_verify only matters once TLS is on
	if skipVerify && insecure {
		warnings = append(warnings, "telemetry.skip_tls_verify=true has no effect when telemetry.insecure=true (plaintext)")
	}

	return warnings
}
