// Package config handles loading and validating mqttprobe configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Built-in profiles for the classic plaintext and mutual-TLS smoke tests
//   - Reading a .env file and MQTTPROBE_* environment overrides
//   - Validation of required fields and TLS consistency
//   - Default value handling
//
// Security Considerations:
//   - Passwords and tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - verify_hostname=false still verifies the broker chain against ca_file;
//     only insecure_skip_verify turns verification off entirely
//
// Usage:
//
//	base, err := config.Profile(config.ProfileMTLSPub)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("mqttprobe.yaml", config.WithBase(base))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BrokerAddress())
package config
