package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
)

// ServiceConfig is the service's own bootstrap configuration:
// creasty/defaults fills in zero fields, then main overrides from the
// environment. One consistent way of doing defaults system-wide, service
// config included.
type ServiceConfig struct {
	Service             ServiceConf       `json:"service"`
	DocumentStore       DocumentStoreConf `json:"documentStore"`
	PublishChangeEvents bool              `json:"publishChangeEvents" default:"true"`
	LogLevel            slog.Level        `json:"logLevel" default:"\"INFO\""`
}

type ServiceConf struct {
	Port      int `json:"port" default:"8080"`
	AdminPort int `json:"adminPort" default:"8081"`
}

type DocumentStoreConf struct {
	// DataStoreType selects the adapter implementation: "mongo" or
	// "memory".
	DataStoreType string    `json:"dataStoreType" default:"mongo"`
	MaxPoolSize   uint64    `json:"maxPoolSize" default:"50"`
	Mongo         MongoConf `json:"mongo"`
}

type MongoConf struct {
	Database  string          `json:"database" default:"configstore"`
	User      string          `json:"user"`
	Password  string          `json:"password"`
	Endpoints []MongoEndpoint `json:"endpoints" default:"[{\"host\":\"localhost\",\"port\":27017}]"`
}

type MongoEndpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// URI renders the endpoints and credentials as a MongoDB connection
// string. A single endpoint gets connect=direct so a lone local replica
// member can be addressed without a seed-list lookup.
func (c MongoConf) URI() string {
	hosts := make([]string, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		hosts = append(hosts, fmt.Sprintf("%s:%d", e.Host, e.Port))
	}
	credentials := ""
	if c.User != "" {
		credentials = fmt.Sprintf("%s:%s@", c.User, c.Password)
	}
	uri := fmt.Sprintf("mongodb://%s%s/", credentials, strings.Join(hosts, ","))
	if len(c.Endpoints) == 1 {
		uri += "?connect=direct"
	}
	return uri
}

func loadServiceConfig() (*ServiceConfig, error) {
	cfg := &ServiceConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if cfg.DocumentStore.DataStoreType != "mongo" && cfg.DocumentStore.DataStoreType != "memory" {
		return nil, fmt.Errorf("unsupported dataStoreType %q", cfg.DocumentStore.DataStoreType)
	}
	if cfg.DocumentStore.MaxPoolSize == 0 {
		return nil, fmt.Errorf("maxPoolSize must be positive")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *ServiceConfig) {
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Service.Port = p
		}
	}
	if v := os.Getenv("SERVICE_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Service.AdminPort = p
		}
	}
	if v := os.Getenv("DOCUMENT_STORE_TYPE"); v != "" {
		cfg.DocumentStore.DataStoreType = v
	}
	if v := os.Getenv("DOCUMENT_STORE_MAX_POOL_SIZE"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.DocumentStore.MaxPoolSize = p
		}
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.DocumentStore.Mongo.Database = v
	}
	if v := os.Getenv("MONGO_USER"); v != "" {
		cfg.DocumentStore.Mongo.User = v
	}
	if v := os.Getenv("MONGO_PASSWORD"); v != "" {
		cfg.DocumentStore.Mongo.Password = v
	}
	if v := os.Getenv("MONGO_ENDPOINTS"); v != "" {
		endpoints := make([]MongoEndpoint, 0)
		for _, hp := range strings.Split(v, ",") {
			host, portStr, found := strings.Cut(hp, ":")
			port := 27017
			if found {
				if p, err := strconv.Atoi(portStr); err == nil {
					port = p
				}
			}
			endpoints = append(endpoints, MongoEndpoint{Host: host, Port: port})
		}
		cfg.DocumentStore.Mongo.Endpoints = endpoints
	}
	if v := os.Getenv("PUBLISH_CHANGE_EVENTS"); v != "" {
		cfg.PublishChangeEvents = v == "1" || strings.EqualFold(v, "true")
	}
}
