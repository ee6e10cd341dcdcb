package postgres

import (
	"fmt"
)

// Config holds PostgreSQL connection settings
type Config struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// Validate checks required connection settings
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("postgres database is required")
	}
	if c.Username == "" {
		return fmt.Errorf("postgres username is required")
	}
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return nil
}

// GetConnectionString builds a DSN for the pgx stdlib driver
func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}
