package config

import (
	"time"
)

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// RedisConfig holds coordination-store connection settings shared by the
// crawler and pinger. Password falls back to the REDIS_PASSWORD
// environment variable when empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// CommonConfig holds the options recognized by both the crawler and the
// pinger.
type CommonConfig struct {
	LogFile        string `yaml:"logfile"`
	LogToConsole   bool   `yaml:"log_to_console"`
	MagicNumber    uint32 `yaml:"magic_number"`
	Workers        int    `yaml:"workers"`
	Debug          bool   `yaml:"debug"`
	SourceAddress  string `yaml:"source_address,omitempty"`
	ProtocolVersion int32  `yaml:"protocol_version"`
	UserAgent      string `yaml:"user_agent"`
	Services       uint64 `yaml:"services"`
	Relay          bool   `yaml:"relay"`

	SocketTimeout time.Duration `yaml:"socket_timeout"`
	CronDelay     time.Duration `yaml:"cron_delay"`

	IPv6Prefix         int `yaml:"ipv6_prefix"`
	NodesPerIPv6Prefix int `yaml:"nodes_per_ipv6_prefix"`

	Onion      bool     `yaml:"onion"`
	TorProxies []string `yaml:"tor_proxies,omitempty"`

	CrawlDir string `yaml:"crawl_dir"`

	Redis       RedisConfig `yaml:"redis"`
	MetricsAddr string      `yaml:"metrics_addr,omitempty"`
}

// CrawlerConfig is the configuration for the crawler daemon.
type CrawlerConfig struct {
	ConfigVersion int `yaml:"config_version,omitempty"`
	CommonConfig  `yaml:",inline"`

	Port int `yaml:"port"`

	Seeders []string `yaml:"seeders,omitempty"`

	SnapshotDelay time.Duration `yaml:"snapshot_delay"`
	AddrTTL       time.Duration `yaml:"addr_ttl"`
	AddrTTLVar    int           `yaml:"addr_ttl_var"`
	MaxAge        time.Duration `yaml:"max_age"`
	PeersPerNode  int           `yaml:"peers_per_node"`

	IPv6 bool `yaml:"ipv6"`

	IncludeASNs         []uint32 `yaml:"include_asns,omitempty"`
	IncludeASNsFromURL  string   `yaml:"include_asns_from_url,omitempty"`
	ExcludeASNs         []uint32 `yaml:"exclude_asns,omitempty"`
	ExcludePrivate      bool     `yaml:"exclude_private"`
	ExcludeIPv4Networks []string `yaml:"exclude_ipv4_networks,omitempty"`
	ExcludeIPv6Networks []string `yaml:"exclude_ipv6_networks,omitempty"`
	ExcludeIPv4Bogons   bool     `yaml:"exclude_ipv4_bogons"`
	ExcludeIPv6Bogons   bool     `yaml:"exclude_ipv6_bogons"`
	ExcludeIPv4NetworksFromURL string `yaml:"exclude_ipv4_networks_from_url,omitempty"`
	ExcludeIPv6NetworksFromURL string `yaml:"exclude_ipv6_networks_from_url,omitempty"`

	OnionNodes []string `yaml:"onion_nodes,omitempty"`

	IncludeChecked bool `yaml:"include_checked"`

	GeoIPASNDB string `yaml:"geoip_asn_db,omitempty"`
}

// PingerConfig is the configuration for the pinger daemon.
type PingerConfig struct {
	ConfigVersion int `yaml:"config_version,omitempty"`
	CommonConfig  `yaml:",inline"`

	RTTTTL       time.Duration `yaml:"rtt_ttl"`
	InvTTL       time.Duration `yaml:"inv_ttl"`
	VersionDelay time.Duration `yaml:"version_delay"`
}

// Role is the CLI-selected process role: exactly one master per
// deployment owns cycle transitions and snapshot emission.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleSlave
}
