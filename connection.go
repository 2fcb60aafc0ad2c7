package dbrest

import (
	"maps"
	"net"
	"strconv"
)

// DefaultPort is the REST port used when ConnectionParams.Port is zero.
const DefaultPort = 8000

// ConnectionParams identify the server and credentials. A Client keeps its
// own copy and every operation works on a further copy.
type ConnectionParams struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	SSL      bool              `mapstructure:"ssl"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Clone returns a deep copy.
func (p ConnectionParams) Clone() ConnectionParams {
	out := p
	out.Headers = maps.Clone(p.Headers)
	return out
}

// BaseURL returns scheme://host:port.
func (p ConnectionParams) BaseURL() string {
	scheme := "http"
	if p.SSL {
		scheme = "https"
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}
