package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// checkConfigFilePermissions returns an error if a config file has overly permissive
// permissions (group/world readable). Config files carry Redis
// credentials and policy URLs.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

func applyCommonDefaults(c *CommonConfig) {
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = 5 * time.Second
	}
	if c.CronDelay == 0 {
		c.CronDelay = 10 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" && c.Redis.Password == "" {
		c.Redis.Password = pw
	}
}

// LoadCrawlerConfig loads crawler configuration from a YAML file.
func LoadCrawlerConfig(path string) (*CrawlerConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg CrawlerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = 1
	}
	if cfg.ConfigVersion > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade the crawler", ErrConfigVersionTooNew, cfg.ConfigVersion, CurrentConfigVersion)
	}

	applyCommonDefaults(&cfg.CommonConfig)
	if cfg.PeersPerNode == 0 {
		cfg.PeersPerNode = 100
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.AddrTTL == 0 {
		cfg.AddrTTL = 30 * time.Minute
	}

	return &cfg, nil
}

// LoadPingerConfig loads pinger configuration from a YAML file.
func LoadPingerConfig(path string) (*PingerConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg PingerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = 1
	}
	if cfg.ConfigVersion > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade the pinger", ErrConfigVersionTooNew, cfg.ConfigVersion, CurrentConfigVersion)
	}

	applyCommonDefaults(&cfg.CommonConfig)
	if cfg.RTTTTL == 0 {
		cfg.RTTTTL = 30 * time.Minute
	}
	if cfg.InvTTL == 0 {
		cfg.InvTTL = time.Hour
	}
	if cfg.VersionDelay == 0 {
		cfg.VersionDelay = 30 * time.Minute
	}

	return &cfg, nil
}

// ValidateCrawlerConfig validates crawler configuration.
func ValidateCrawlerConfig(cfg *CrawlerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535")
	}
	if cfg.CrawlDir == "" {
		return fmt.Errorf("crawl_dir is required")
	}
	if cfg.Onion && len(cfg.TorProxies) == 0 {
		return fmt.Errorf("tor_proxies is required when onion is enabled")
	}
	return nil
}

// ValidatePingerConfig validates pinger configuration.
func ValidatePingerConfig(cfg *PingerConfig) error {
	if cfg.CrawlDir == "" {
		return fmt.Errorf("crawl_dir is required")
	}
	if cfg.Onion && len(cfg.TorProxies) == 0 {
		return fmt.Errorf("tor_proxies is required when onion is enabled")
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations.
// Search order: explicitPath (if given), ./{name}.yaml, /etc/netmapper/{name}.yaml
func FindConfigFile(explicitPath, name string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{
		name + ".yaml",
		filepath.Join("/etc", "netmapper", name+".yaml"),
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}
