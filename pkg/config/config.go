package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Services ServicesConfig `mapstructure:"services"`
	Orders   OrdersConfig   `mapstructure:"orders"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// AdvertiseHost is the host registered for peers. Empty means Host,
	// or the machine's hostname when Host is a wildcard address.
	AdvertiseHost string `mapstructure:"advertise_host"`
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Advertised returns the host peers should dial.
func (c *ServerConfig) Advertised() (string, error) {
	if c.AdvertiseHost != "" {
		return c.AdvertiseHost, nil
	}
	if ip := net.ParseIP(c.Host); c.Host != "" && (ip == nil || !ip.IsUnspecified()) {
		return c.Host, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve hostname to advertise: %w", err)
	}
	return host, nil
}

type GRPCConfig struct {
	Port           int           `mapstructure:"port"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// EtcdConfig enables service discovery when Endpoints is non-empty.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

func (c *EtcdConfig) Enabled() bool {
	return len(c.Endpoints) > 0
}

// RedisConfig enables the order cache when Addr is non-empty.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	OrderTTL time.Duration `mapstructure:"order_ttl"`
}

func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // mysql | sqlite
	SQLitePath string `mapstructure:"sqlite_path"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// MongoDBConfig enables the audit log when URI is non-empty.
type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

func (c *MongoDBConfig) Enabled() bool {
	return c.URI != ""
}

// KafkaConfig enables publishing of order events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// ServicesConfig locates the user and product services. The URLs are used
// as-is unless discovery resolves the named service.
type ServicesConfig struct {
	UserURL     string        `mapstructure:"user_url"`
	UserName    string        `mapstructure:"user_name"`
	ProductURL  string        `mapstructure:"product_url"`
	ProductName string        `mapstructure:"product_name"`
	APIPrefix   string        `mapstructure:"api_prefix"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HealthPath  string        `mapstructure:"health_path"`
}

type OrdersConfig struct {
	CompensateReservations bool `mapstructure:"compensate_reservations"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "order-service")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8083)

	v.SetDefault("grpc.port", 9083)
	v.SetDefault("grpc.health_interval", 15*time.Second)

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")
	v.SetDefault("etcd.lease_ttl", 30)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.order_ttl", 5*time.Minute)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.sqlite_path", "orders.db")

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)

	v.SetDefault("mongodb.database", "orderflow")
	v.SetDefault("mongodb.collection", "order_audit")

	v.SetDefault("kafka.topic", "order-events")
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)

	v.SetDefault("services.user_url", "http://localhost:8080")
	v.SetDefault("services.user_name", "user-service")
	v.SetDefault("services.product_url", "http://localhost:8082")
	v.SetDefault("services.product_name", "product-service")
	v.SetDefault("services.api_prefix", "/api/v1")
	v.SetDefault("services.timeout", 5*time.Second)
	v.SetDefault("services.health_path", "/actuator/health")

	v.SetDefault("orders.compensate_reservations", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Load reads the YAML file at configPath. Any key can be overridden through
// the environment, e.g. ORDERFLOW_SERVICES_USER_URL.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("orderflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Services.Timeout <= 0 {
		return fmt.Errorf("services.timeout must be positive, got %s", c.Services.Timeout)
	}
	if c.GRPC.HealthInterval <= 0 {
		return fmt.Errorf("grpc.health_interval must be positive, got %s", c.GRPC.HealthInterval)
	}
	return nil
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
