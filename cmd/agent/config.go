package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kibala/provenance-agent/manifest"
)

// agentConfig is the YAML configuration for the device agent. Every field
// has a flag override; the file is optional.
type agentConfig struct {
	CAURL      string `yaml:"ca_url"`
	GatewayURL string `yaml:"gateway_url"`
	DataDir    string `yaml:"data_dir"`
	CacheURI   string `yaml:"cache_uri"`
	MirrorURIs string `yaml:"mirror_uris"`
	KeyTag     string `yaml:"key_tag"`

	Identity struct {
		CommonName   string `yaml:"common_name"`
		Organization string `yaml:"organization"`
		Locality     string `yaml:"locality"`
		Country      string `yaml:"country"`
	} `yaml:"identity"`

	Manifest struct {
		ClaimGenerator   string `yaml:"claim_generator"`
		GeneratorName    string `yaml:"generator_name"`
		GeneratorVersion string `yaml:"generator_version"`
		Title            string `yaml:"title"`
		AuthorName       string `yaml:"author_name"`
		AuthorType       string `yaml:"author_type"`
	} `yaml:"manifest"`
}

// loadConfig reads the YAML config at path. A missing path yields an empty
// config; flags and defaults fill the gaps.
func loadConfig(path string) (*agentConfig, error) {
	cfg := &agentConfig{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}
	return cfg, nil
}

// profile builds the manifest profile, falling back to the defaults for
// unset fields.
func (c *agentConfig) profile() manifest.Profile {
	profile := manifest.DefaultProfile
	if c.Manifest.ClaimGenerator != "" {
		profile.ClaimGenerator = c.Manifest.ClaimGenerator
	}
	if c.Manifest.GeneratorName != "" {
		profile.GeneratorName = c.Manifest.GeneratorName
	}
	if c.Manifest.GeneratorVersion != "" {
		profile.GeneratorVersion = c.Manifest.GeneratorVersion
	}
	if c.Manifest.Title != "" {
		profile.Title = c.Manifest.Title
	}
	if c.Manifest.AuthorName != "" {
		profile.AuthorName = c.Manifest.AuthorName
	}
	if c.Manifest.AuthorType != "" {
		profile.AuthorType = c.Manifest.AuthorType
	}
	return profile
}
