package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DomainList is the on-disk override for the built-in ad/tracking lists.
//
//	[domains]
//	ad = ["doubleclick.net", "adservice.example"]
//	ad_paths = ["/pagead/**", "/adsbygoogle*"]
type DomainList struct {
	Domains struct {
		Ad      []string `toml:"ad"`
		AdPaths []string `toml:"ad_paths"`
	} `toml:"domains"`
}

// LoadDomainList parses a TOML domain list file.
func LoadDomainList(path string) (*DomainList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain list: %w", err)
	}
	var list DomainList
	if err := toml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse domain list: %w", err)
	}
	return &list, nil
}
