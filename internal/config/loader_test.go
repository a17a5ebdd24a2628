package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testCrawlerYAML = `
logfile: /tmp/crawler.log
magic_number: 0xd9b4bef9
port: 8333
workers: 16
protocol_version: 70016
user_agent: "/netmapper:0.1.0/"
services: 9
socket_timeout: 5s
cron_delay: 10s
snapshot_delay: 1m
peers_per_node: 100
max_age: 24h
ipv6: true
ipv6_prefix: 64
nodes_per_ipv6_prefix: 2
exclude_private: true
seeders:
  - seed.example.com
crawl_dir: /tmp/crawl
redis:
  addr: 127.0.0.1:6379
  db: 0
`

func writeTestConfig(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadCrawlerConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "crawler.yaml", testCrawlerYAML)

	cfg, err := LoadCrawlerConfig(path)
	if err != nil {
		t.Fatalf("LoadCrawlerConfig: %v", err)
	}

	if cfg.Port != 8333 {
		t.Errorf("Port = %d, want 8333", cfg.Port)
	}
	if cfg.MagicNumber != 0xd9b4bef9 {
		t.Errorf("MagicNumber = %#x, want 0xd9b4bef9", cfg.MagicNumber)
	}
	if len(cfg.Seeders) != 1 || cfg.Seeders[0] != "seed.example.com" {
		t.Errorf("Seeders = %v", cfg.Seeders)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.ConfigVersion != 1 {
		t.Errorf("ConfigVersion = %d, want 1 (default)", cfg.ConfigVersion)
	}
}

func TestLoadCrawlerConfigMissingFile(t *testing.T) {
	if _, err := LoadCrawlerConfig("/nonexistent/path.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadCrawlerConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "crawler.yaml", "not: [valid: yaml: {{{")

	if _, err := LoadCrawlerConfig(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestCrawlerConfigVersionFutureRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "crawler.yaml", "config_version: 999\n"+testCrawlerYAML)

	if _, err := LoadCrawlerConfig(path); err == nil {
		t.Error("expected error for future config version")
	}
}

func TestLoadCrawlerConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "crawler.yaml", "port: 8333\ncrawl_dir: /tmp/crawl\n")

	cfg, err := LoadCrawlerConfig(path)
	if err != nil {
		t.Fatalf("LoadCrawlerConfig: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers default = %d, want 8", cfg.Workers)
	}
	if cfg.SocketTimeout.Seconds() != 5 {
		t.Errorf("SocketTimeout default = %v, want 5s", cfg.SocketTimeout)
	}
	if cfg.PeersPerNode != 100 {
		t.Errorf("PeersPerNode default = %d, want 100", cfg.PeersPerNode)
	}
}

func TestValidateCrawlerConfig(t *testing.T) {
	valid := &CrawlerConfig{Port: 8333, CommonConfig: CommonConfig{CrawlDir: "/tmp/crawl"}}
	if err := ValidateCrawlerConfig(valid); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noPort := &CrawlerConfig{CommonConfig: CommonConfig{CrawlDir: "/tmp/crawl"}}
	if err := ValidateCrawlerConfig(noPort); err == nil {
		t.Error("expected error for missing port")
	}

	noCrawlDir := &CrawlerConfig{Port: 8333}
	if err := ValidateCrawlerConfig(noCrawlDir); err == nil {
		t.Error("expected error for missing crawl_dir")
	}

	onionNoProxies := &CrawlerConfig{
		Port:         8333,
		CommonConfig: CommonConfig{CrawlDir: "/tmp/crawl", Onion: true},
	}
	if err := ValidateCrawlerConfig(onionNoProxies); err == nil {
		t.Error("expected error for onion enabled without tor_proxies")
	}
}

func TestLoadPingerConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := `
magic_number: 0xd9b4bef9
workers: 64
crawl_dir: /tmp/crawl
rtt_ttl: 30m
inv_ttl: 1h
`
	path := writeTestConfig(t, dir, "pinger.yaml", yaml)

	cfg, err := LoadPingerConfig(path)
	if err != nil {
		t.Fatalf("LoadPingerConfig: %v", err)
	}
	if cfg.Workers != 64 {
		t.Errorf("Workers = %d, want 64", cfg.Workers)
	}
	if cfg.RTTTTL.Minutes() != 30 {
		t.Errorf("RTTTTL = %v, want 30m", cfg.RTTTTL)
	}
}

func TestValidatePingerConfig(t *testing.T) {
	valid := &PingerConfig{CommonConfig: CommonConfig{CrawlDir: "/tmp/crawl"}}
	if err := ValidatePingerConfig(valid); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noCrawlDir := &PingerConfig{}
	if err := ValidatePingerConfig(noCrawlDir); err == nil {
		t.Error("expected error for missing crawl_dir")
	}
}

func TestFindConfigFileExplicit(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "crawler.yaml", "port: 8333")

	found, err := FindConfigFile(path, "crawler")
	if err != nil {
		t.Fatalf("FindConfigFile: %v", err)
	}
	if found != path {
		t.Errorf("found = %q, want %q", found, path)
	}
}

func TestFindConfigFileExplicitMissing(t *testing.T) {
	if _, err := FindConfigFile("/nonexistent/config.yaml", "crawler"); err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestFindConfigFileLocalDir(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "crawler.yaml")
	if err := os.WriteFile(configPath, []byte("port: 8333"), 0600); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(origDir)

	found, err := FindConfigFile("", "crawler")
	if err != nil {
		t.Fatalf("FindConfigFile: %v", err)
	}
	if found != "crawler.yaml" {
		t.Errorf("found = %q, want %q", found, "crawler.yaml")
	}
}

func TestRedisPasswordFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "crawler.yaml", "port: 8333\ncrawl_dir: /tmp/crawl\n")

	t.Setenv("REDIS_PASSWORD", "s3cret")

	cfg, err := LoadCrawlerConfig(path)
	if err != nil {
		t.Fatalf("LoadCrawlerConfig: %v", err)
	}
	if cfg.Redis.Password != "s3cret" {
		t.Errorf("Redis.Password = %q, want from REDIS_PASSWORD env", cfg.Redis.Password)
	}
}
