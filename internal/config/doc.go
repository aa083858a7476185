// Package config provides centralized configuration for the SAKA QMS server.
//
// # Configuration Sources
//
// Configuration is resolved in order of increasing precedence:
//
//	1. Default() values
//	2. YAML file (SAKA_CONFIG_FILE, config.yaml or configs/config.yaml)
//	3. Environment variables
//
// # Environment Variables
//
// All environment variables use the SAKA_ prefix followed by the section:
//
//	SAKA_SERVER_PORT=8000
//	SAKA_LOGGING_LEVEL=debug
//	SAKA_LICENSE_FILE=/srv/saka/license.dat
//	SAKA_LICENSE_PROBE_TIMEOUT=3s
//	SAKA_LICENSE_PROTECTED_PREFIXES=/api/upload,/api/files
//	SAKA_SECURITY_CORS_ALLOWED_ORIGINS=https://qms.example.com
//	SAKA_METRICS_PATH=/metrics
//
// Unprefixed names such as PORT or PATH are never read.
//
// # License File
//
// When SAKA_LICENSE_FILE is not set the license lives in a hidden per-user
// directory (see DefaultLicenseFile), so that reinstalling the application
// keeps the activation.
package config
