package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:         AppConfig{Env: "local", Port: 8080},
		AMI:         AMIConfig{Host: "localhost", Port: 5038, Username: "bridge", Secret: "x"},
		DB:          DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbridge"},
		Redis:       RedisConfig{Host: "localhost", Port: 6379},
		Auth:        AuthConfig{JWTSecret: "secret"},
		CRM:         CRMConfig{WebhookURL: "https://crm.example/rest/1/token"},
		RoutingPath: "/etc/callbridge/routing.yaml",
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Session.IdleTimeout != 2*time.Hour || c.Session.SweepInterval != time.Minute {
		t.Fatalf("session defaults: %+v", c.Session)
	}
	if c.Dispatch.MaxAttempts != 5 || c.Dispatch.QueueSize != 256 {
		t.Fatalf("dispatch defaults: %+v", c.Dispatch)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("token ttl default: %v", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "callbridge"
	c.Auth.JWTAudience = "ops"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_SweepIntervalBound(t *testing.T) {
	c := validConfig()
	c.Session.IdleTimeout = time.Minute
	c.Session.SweepInterval = time.Hour
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when sweep interval exceeds idle timeout")
	}
}

func TestAddrHelpers(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.HTTPAddr() != ":8080" {
		t.Fatalf("http addr = %q", c.HTTPAddr())
	}
	if c.AMIAddr() != "localhost:5038" {
		t.Fatalf("ami addr = %q", c.AMIAddr())
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("redis addr = %q", c.RedisAddr())
	}
}
