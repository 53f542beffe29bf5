package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DatabaseConfig holds the server connection parameters shared by every
// logical database on the same MySQL instance.
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// SetDefaults fills unset fields
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Host == "" {
		dc.Host = "localhost"
	}
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Username == "" {
		dc.Username = "root"
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
}

// DSN returns the Data Source Name for one logical database. Times are
// left as raw text so dumps reproduce them byte for byte, and
// multi-statement execution stays off.
func (dc *DatabaseConfig) DSN(database string) string {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
	cfg.DBName = database
	cfg.Timeout = dc.Timeout
	cfg.ParseTime = false
	cfg.MultiStatements = false
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}
