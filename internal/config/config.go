package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-io-live/chat-relay/pkg/config"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/database"
	pkglog "github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

type Config struct {
	Server       ServerConfig
	GRPC         GRPCConfig
	Instance     InstanceConfig
	Log          pkglog.Config
	WebSocket    WebSocketConfig
	Auth         AuthConfig
	Kafka        KafkaConfig
	Distribution DistributionConfig
	Fanout       FanoutConfig
	Store        StoreConfig
	Cassandra    CassandraConfig
	Database     database.Config
	Redis        RedisConfig
	Cache        CacheConfig
	CORS         CORSConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Host    string
	Port    int
	Enabled bool
}

type InstanceConfig struct {
	ID string
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

type KafkaConfig struct {
	Brokers             string
	Topic               string
	Partitions          int
	GroupID             string `mapstructure:"group_id"`
	AutoOffsetReset     string `mapstructure:"auto_offset_reset"`
	SessionTimeoutMs    int    `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
	MaxPollIntervalMs   int    `mapstructure:"max_poll_interval_ms"`
}

type DistributionConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          time.Duration `mapstructure:"backoff"`
	AckTimeout       time.Duration `mapstructure:"ack_timeout"`
	LaneQueueSize    int           `mapstructure:"lane_queue_size"`
	ConsumerWorkers  int           `mapstructure:"consumer_workers"`
	SuppressSelfEcho bool          `mapstructure:"suppress_self_echo"`
	GroupPerInstance bool          `mapstructure:"group_per_instance"`
}

type FanoutConfig struct {
	Driver        string // memory, redis
	BufferSize    int    `mapstructure:"buffer_size"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type StoreConfig struct {
	Messages string // cassandra, sql
	Presence string // redis, sql
	Timeout  time.Duration
}

type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	Timeout           time.Duration
	NumConns          int  `mapstructure:"num_conns"`
	ReplicationFactor int  `mapstructure:"replication_factor"`
	EnsureSchema      bool `mapstructure:"ensure_schema"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GroupID returns the consumer group this instance joins.
func (c *Config) GroupID() string {
	if c.Distribution.GroupPerInstance {
		return fmt.Sprintf("%s-%s", c.Kafka.GroupID, c.Instance.ID)
	}
	return c.Kafka.GroupID
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("instance.id", "INSTANCE_ID")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("fanout.driver", "FANOUT_DRIVER")
	v.BindEnv("store.messages", "MESSAGE_STORE")
	v.BindEnv("store.presence", "PRESENCE_STORE")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("cassandra.username", "CASSANDRA_USERNAME")
	v.BindEnv("cassandra.password", "CASSANDRA_PASSWORD")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 15*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.Leeway = parseDuration(v, "auth.leeway", 30*time.Second)
	cfg.Distribution.Backoff = parseDuration(v, "distribution.backoff", 2*time.Second)
	cfg.Distribution.AckTimeout = parseDuration(v, "distribution.ack_timeout", 30*time.Second)
	cfg.Store.Timeout = parseDuration(v, "store.timeout", 5*time.Second)
	cfg.Cassandra.ConnectTimeout = parseDuration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = parseDuration(v, "cassandra.timeout", 5*time.Second)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", 5*time.Minute)

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = defaultInstanceID()
	}
	cfg.Log.InstanceID = cfg.Instance.ID

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("instance.id", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-relay")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", "30s")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.group_id", "chat-group")
	v.SetDefault("kafka.auto_offset_reset", "latest")
	v.SetDefault("kafka.session_timeout_ms", 45000)
	v.SetDefault("kafka.heartbeat_interval_ms", 3000)
	v.SetDefault("kafka.max_poll_interval_ms", 300000)
	v.SetDefault("distribution.max_attempts", 3)
	v.SetDefault("distribution.backoff", "2s")
	v.SetDefault("distribution.ack_timeout", "30s")
	v.SetDefault("distribution.lane_queue_size", 1024)
	v.SetDefault("distribution.consumer_workers", 8)
	v.SetDefault("distribution.suppress_self_echo", true)
	v.SetDefault("distribution.group_per_instance", true)
	v.SetDefault("fanout.driver", "memory")
	v.SetDefault("fanout.buffer_size", 256)
	v.SetDefault("fanout.channel_prefix", "chat:fanout:")
	v.SetDefault("store.messages", "cassandra")
	v.SetDefault("store.presence", "redis")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "chatverse")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("cassandra.replication_factor", 1)
	v.SetDefault("cassandra.ensure_schema", true)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", "chatverse")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.file_path", "chatverse.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func (c *Config) validate() error {
	switch c.Store.Messages {
	case "cassandra", "sql":
	default:
		return fmt.Errorf("unsupported message store: %q", c.Store.Messages)
	}
	switch c.Store.Presence {
	case "redis", "sql":
	default:
		return fmt.Errorf("unsupported presence store: %q", c.Store.Presence)
	}
	switch c.Fanout.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported fanout driver: %q", c.Fanout.Driver)
	}
	if c.Distribution.MaxAttempts < 1 {
		return fmt.Errorf("distribution.max_attempts must be at least 1, got %d", c.Distribution.MaxAttempts)
	}
	return nil
}

// defaultInstanceID is the hostname, which stays stable across restarts of
// the same pod so presence reconciliation can find its own records.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "chat-relay-" + uuid.New().String()[:8]
	}
	return host
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
