package config

import (
	"fmt"
	"sort"
)

// Built-in profile names. Each reproduces one of the classic broker smoke tests.
const (
	ProfileInsecurePub = "insecure-pub"
	ProfileMTLSPub     = "mtls-pub"
	ProfileMTLSSub     = "mtls-sub"
)

// Profile hosts and ports.
const (
	publisherHost  = "10.23.106.20"
	subscriberHost = "10.114.25.138"
	plainPort      = 1883
	tlsPort        = 8883
)

var profiles = map[string]func(*Config){
	ProfileInsecurePub: func(c *Config) {
		c.Broker.Host = publisherHost
		c.Broker.Port = plainPort
		c.Broker.ClientID = "publisher1"
		c.TLS.Enabled = false
		c.Publish.Payload = "from my laptop"
	},
	ProfileMTLSPub: func(c *Config) {
		c.Broker.Host = publisherHost
		c.Broker.Port = tlsPort
		c.Broker.ClientID = "publisher1"
		enableMutualTLS(c)
		c.Publish.Payload = "m=random"
	},
	ProfileMTLSSub: func(c *Config) {
		c.Broker.Host = subscriberHost
		c.Broker.Port = tlsPort
		c.Broker.ClientID = "subscriber1"
		enableMutualTLS(c)
	},
}

// enableMutualTLS turns on client-certificate TLS pinned to 1.2 without
// hostname verification, reading certificates from the working directory.
func enableMutualTLS(c *Config) {
	c.TLS = TLSConfig{
		Enabled:        true,
		CAFile:         "ca.crt",
		CertFile:       "client.crt",
		KeyFile:        "client.key",
		MinVersion:     "1.2",
		MaxVersion:     "1.2",
		VerifyHostname: false,
	}
}

// Profile returns Default() with the named profile applied.
// An empty name returns Default() unchanged.
func Profile(name string) (*Config, error) {
	cfg := Default()
	if name == "" {
		return cfg, nil
	}

	apply, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (available: %v)", name, ProfileNames())
	}
	apply(cfg)
	return cfg, nil
}

// ProfileNames returns the built-in profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
