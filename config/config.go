package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Realtime RealtimeConfig
	ICE      ICEConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// RealtimeConfig holds the signaling/presence timing constants.
type RealtimeConfig struct {
	RingTimeout     time.Duration // how long a call may stay ringing
	SweepInterval   time.Duration // presence staleness sweep period
	OnlineTimeout   time.Duration // heartbeat age after which a user is stale
	DisconnectGrace time.Duration // delay before a disconnect commits offline
}

// ICEServer describes one STUN/TURN entry sent to clients at connect.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICEConfig struct {
	Servers []ICEServer
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         envOr("PORT", "8088"),
			Env:          envOr("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             envOr("DATABASE_DSN", "zotalk:zotalk@tcp(localhost:3306)/zotalk?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: envOr("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: 15 * time.Minute,
			Issuer:       "zotalk",
		},
		Realtime: RealtimeConfig{
			RingTimeout:     envDurationSec("RING_TIMEOUT_SEC", 30*time.Second),
			SweepInterval:   envDurationSec("PRESENCE_SWEEP_SEC", 30*time.Second),
			OnlineTimeout:   envDurationSec("PRESENCE_ONLINE_TIMEOUT_SEC", 120*time.Second),
			DisconnectGrace: envDurationSec("PRESENCE_DISCONNECT_GRACE_SEC", 5*time.Second),
		},
		ICE: ICEConfig{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
				{URLs: []string{"stun:stun1.l.google.com:19302"}},
			},
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationSec(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
