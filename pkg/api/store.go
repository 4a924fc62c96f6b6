package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"indi/pkg/bridge"
	"indi/pkg/indi"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket = "indi-client"

	serverConfigKey = "server_config"
	siteConfigKey   = "site_config"
	mqttConfigKey   = "mqtt_config"

	defaultMQTTHost = "localhost"
	defaultMQTTPort = 1883
)

var errKeyNotFound = errors.New("key not found")

// ServerConfig is the INDI server to connect to.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SiteConfig is the observing site: latitude and longitude in degrees,
// elevation in meters.
type SiteConfig struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

type MQTTConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
}

// BridgeConfig converts the stored settings for the MQTT bridge.
func (c MQTTConfig) BridgeConfig() bridge.Config {
	return bridge.Config{
		Host:      fmt.Sprintf("tcp://%s:%d", c.Host, c.Port),
		Username:  c.Username,
		Password:  c.Password,
		TopicRoot: c.TopicRoot,
	}
}

// Store keeps the client settings as JSON values in a bbolt bucket.
type Store struct {
	db *bolt.DB
}

// NewStore opens the settings bucket and writes defaults for anything not
// configured yet.
func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults() error {
	if _, err := s.GetServerConfig(); errors.Is(err, errKeyNotFound) {
		log.Infof("Setting default INDI server config")
		if err := s.SetServerConfig(ServerConfig{Host: "localhost", Port: indi.DefaultPort}); err != nil {
			return err
		}
	}
	if _, err := s.GetSiteConfig(); errors.Is(err, errKeyNotFound) {
		log.Infof("Setting default site config")
		if err := s.SetSiteConfig(SiteConfig{}); err != nil {
			return err
		}
	}
	if _, err := s.GetMQTTConfig(); errors.Is(err, errKeyNotFound) {
		log.Infof("Setting default MQTT config")
		if err := s.SetMQTTConfig(MQTTConfig{
			Host:      defaultMQTTHost,
			Port:      defaultMQTTPort,
			TopicRoot: bridge.DefaultTopicRoot,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetServerConfig(cfg ServerConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	return s.put(serverConfigKey, cfg)
}

func (s *Store) GetServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	err := s.get(serverConfigKey, &cfg)
	return cfg, err
}

func (s *Store) SetSiteConfig(cfg SiteConfig) error {
	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %g", cfg.Latitude)
	}
	if cfg.Longitude < -180 || cfg.Longitude > 360 {
		return fmt.Errorf("invalid longitude: %g", cfg.Longitude)
	}
	return s.put(siteConfigKey, cfg)
}

func (s *Store) GetSiteConfig() (SiteConfig, error) {
	var cfg SiteConfig
	err := s.get(siteConfigKey, &cfg)
	return cfg, err
}

// SetMQTTConfig saves the MQTT configuration as a json string in the database.
func (s *Store) SetMQTTConfig(cfg MQTTConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = bridge.DefaultTopicRoot
	}
	return s.put(mqttConfigKey, cfg)
}

func (s *Store) GetMQTTConfig() (MQTTConfig, error) {
	var cfg MQTTConfig
	err := s.get(mqttConfigKey, &cfg)
	return cfg, err
}

func (s *Store) put(key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (s *Store) get(key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", errKeyNotFound, key)
		}

		value := b.Get([]byte(key))
		if value == nil {
			return fmt.Errorf("%w: %s", errKeyNotFound, key)
		}
		return json.Unmarshal(value, v)
	})
}
