// Copyright 2017 Vector Creations Ltd
// Copyright 2018 New Vector Ltd
// Copyright 2019-2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the process-wide configuration every component
// reads from: the local server's identity, its signing keys, federation
// tuning, and JetStream topic naming. Mirrors the teacher's setup/config
// package: one YAML document, unmarshalled with gopkg.in/yaml.v2, split into
// per-component sub-structs.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ed25519"
	"gopkg.in/yaml.v2"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// Config is the root of the YAML configuration document.
type Config struct {
	Global      Global      `yaml:"global"`
	RoomServer  RoomServer  `yaml:"room_server"`
	FederationAPI FederationAPI `yaml:"federation_api"`
	ClientAPI   ClientAPI   `yaml:"client_api"`
	SyncAPI     SyncAPI     `yaml:"sync_api"`
}

// Global holds settings every component needs: who we are and how we sign.
type Global struct {
	ServerName gomatrixserverlib.ServerName `yaml:"server_name"`
	PrivateKeyPath string                   `yaml:"private_key_path"`
	KeyID          gomatrixserverlib.KeyID  `yaml:"key_id"`
	JetStream      JetStream                `yaml:"jetstream"`

	// Loaded out-of-band from PrivateKeyPath, not part of the YAML itself.
	PrivateKey ed25519.PrivateKey `yaml:"-"`

	// WellKnownServerName is what appears in the /.well-known/matrix/server
	// response if it differs from ServerName (e.g. ServerName is an
	// internal delegate target behind a reverse proxy).
	WellKnownServerName gomatrixserverlib.ServerName `yaml:"well_known_server_name"`

	// TrustedIDServers are identity servers trusted for 3PID lookups. The
	// list is loaded from the config file, but no client or federation path
	// consults it.
	TrustedIDServers []string `yaml:"trusted_third_party_id_servers"`

	// ListenAddress is the single HTTP bind address cmd/ferretcannon
	// serves both the client and federation APIs from.
	ListenAddress string `yaml:"listen_address"`
}

// JetStream configures the internal NATS JetStream pub/sub backbone every
// component uses instead of talking to each other directly.
type JetStream struct {
	Addresses []string `yaml:"addresses"`
	// InMemory runs an embedded NATS server rather than dialing an external
	// one, the default for a single-process deployment.
	InMemory bool   `yaml:"in_memory"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Durable derives a per-consumer durable name, namespaced by TopicPrefix so
// multiple deployments sharing a NATS cluster don't collide.
func (j JetStream) Durable(name string) string {
	if j.TopicPrefix == "" {
		return name
	}
	return j.TopicPrefix + "_" + name
}

// Prefixed namespaces a bare subject name under TopicPrefix.
func (j JetStream) Prefixed(subject string) string {
	if j.TopicPrefix == "" {
		return subject
	}
	return j.TopicPrefix + subject
}

// RoomServer configures the roomserver component.
type RoomServer struct {
	DatabaseURI string `yaml:"database_uri"`
	// PerspectiveServerNames are notary key servers consulted before direct
	// key fetches. Backfill does not consult them.
	PerspectiveServerNames []gomatrixserverlib.ServerName `yaml:"perspective_server_names"`
}

// FederationAPI configures the federationapi component.
type FederationAPI struct {
	DatabaseURI string `yaml:"database_uri"`
	// FederationMaxRetries defaults to 16 but is not read by any component:
	// a failing destination's backoff is bounded only by
	// FederationMaxRetryBackoff, and no retry count ends its retries.
	FederationMaxRetries int           `yaml:"federation_max_retries"`
	FederationMinRetryBackoff time.Duration `yaml:"federation_min_retry_backoff"`
	FederationMaxRetryBackoff time.Duration `yaml:"federation_max_retry_backoff"`
	// DisableTLSValidation is for development/test deployments only.
	DisableTLSValidation bool `yaml:"disable_tls_validation"`
}

// ClientAPI configures the clientapi component.
type ClientAPI struct {
	RegistrationDisabled bool `yaml:"registration_disabled"`
	RateLimiting RateLimiting `yaml:"rate_limiting"`
}

// RateLimiting holds per-user/per-IP request throttling settings. They are
// loaded from the config file, but no request handler applies them.
type RateLimiting struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	CooloffMS time.Duration `yaml:"cooloff_ms"`
}

// SyncAPI configures the syncapi component.
type SyncAPI struct {
	DatabaseURI string `yaml:"database_uri"`
	// RealIPHeader names the reverse-proxy header carrying the real client
	// IP. It is loaded from the config file, but syncapi does not read it.
	RealIPHeader string `yaml:"real_ip_header"`
}

// Load reads and validates the YAML configuration at path, then loads the
// Ed25519 signing key referenced by Global.PrivateKeyPath.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	if err := cfg.loadSigningKey(); err != nil {
		return nil, err
	}
	return &cfg, cfg.Verify()
}

func (c *Config) defaults() error {
	if c.Global.WellKnownServerName == "" {
		c.Global.WellKnownServerName = c.Global.ServerName
	}
	if c.FederationAPI.FederationMaxRetries == 0 {
		c.FederationAPI.FederationMaxRetries = 16
	}
	if c.FederationAPI.FederationMinRetryBackoff == 0 {
		c.FederationAPI.FederationMinRetryBackoff = time.Second
	}
	if c.FederationAPI.FederationMaxRetryBackoff == 0 {
		c.FederationAPI.FederationMaxRetryBackoff = time.Hour
	}
	if c.Global.JetStream.TopicPrefix == "" {
		c.Global.JetStream.TopicPrefix = "Ferretcannon"
	}
	if c.Global.ListenAddress == "" {
		c.Global.ListenAddress = ":8448"
	}
	return nil
}

// Verify checks that the fields every component assumes are present
// actually are, failing fast at startup rather than deep in some handler.
func (c *Config) Verify() error {
	if c.Global.ServerName == "" {
		return fmt.Errorf("config: global.server_name is required")
	}
	if c.Global.KeyID == "" {
		return fmt.Errorf("config: global.key_id is required")
	}
	return nil
}

func (c *Config) loadSigningKey() error {
	if c.Global.PrivateKeyPath == "" {
		return fmt.Errorf("config: global.private_key_path is required")
	}
	data, err := os.ReadFile(c.Global.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("config: reading private key %q: %w", c.Global.PrivateKeyPath, err)
	}
	seed, err := decodeSigningKeySeed(data)
	if err != nil {
		return fmt.Errorf("config: parsing private key %q: %w", c.Global.PrivateKeyPath, err)
	}
	c.Global.PrivateKey = ed25519.NewKeyFromSeed(seed)
	return nil
}

// SigningIdentity bundles the loaded server name/key ID/private key into the
// shape gomatrixserverlib's signing routines expect.
func (c *Config) SigningIdentity() gomatrixserverlib.SigningIdentity {
	return gomatrixserverlib.SigningIdentity{
		ServerName: c.Global.ServerName,
		KeyID:      c.Global.KeyID,
		PrivateKey: c.Global.PrivateKey,
	}
}
