// Package config handles loading and validating the WebIoT relay configuration.
//
// This package manages:
//   - Default values for every setting
//   - Loading an optional YAML file
//   - Overriding with environment variables (MQTT_URL, MQTT_SUB_TOPIC, ...)
//   - Validation of required fields
//
// Security Considerations:
//   - Broker credentials and the session secret should come from the environment
//   - An explicit session secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("WEBIOT_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
