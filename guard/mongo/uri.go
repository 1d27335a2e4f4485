package mongo

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrInvalidScheme is returned when URI scheme is not mongodb or mongodb+srv.
	ErrInvalidScheme = errors.New("invalid mongo uri scheme")
	// ErrEmptyHost is returned when URI host is empty.
	ErrEmptyHost = errors.New("mongo uri host cannot be empty")
	// ErrInvalidPort is returned when URI port is outside the valid TCP range.
	ErrInvalidPort = errors.New("mongo uri port is invalid")
	// ErrPortNotAllowedForSRV is returned when a port is provided for mongodb+srv.
	ErrPortNotAllowedForSRV = errors.New("port cannot be set for mongodb+srv")
	// ErrPasswordWithoutUser is returned when password is set without username.
	ErrPasswordWithoutUser = errors.New("password requires username")
)

// URIConfig contains the components used to build a MongoDB URI.
type URIConfig struct {
	Scheme   string
	Username string
	Password string
	Host     string
	Port     string
	Database string
	Query    url.Values
}

// BuildURI validates cfg and returns a canonical MongoDB connection URI.
// Credentials and the database name are URL-encoded; callers can feed the
// result straight into Config.URI.
func BuildURI(cfg URIConfig) (string, error) {
	scheme := strings.TrimSpace(cfg.Scheme)
	host := strings.TrimSpace(cfg.Host)
	port := strings.TrimSpace(cfg.Port)
	username := strings.TrimSpace(cfg.Username)

	if scheme != "mongodb" && scheme != "mongodb+srv" {
		return "", ErrInvalidScheme
	}

	if host == "" {
		return "", ErrEmptyHost
	}

	if username == "" && cfg.Password != "" {
		return "", ErrPasswordWithoutUser
	}

	if scheme == "mongodb+srv" && port != "" {
		return "", ErrPortNotAllowedForSRV
	}

	if port != "" {
		parsedPort, err := strconv.Atoi(port)
		if err != nil || parsedPort < 1 || parsedPort > 65535 {
			return "", ErrInvalidPort
		}

		host = host + ":" + port
	}

	uri := &url.URL{Scheme: scheme, Host: host, Path: "/"}

	if username != "" {
		// url.UserPassword encodes username:password in the URI. An empty
		// password produces "username:@", which is valid per RFC 3986.
		uri.User = url.UserPassword(username, cfg.Password)
	}

	// url.URL.String escapes the path itself; storing a pre-escaped value
	// here would double-encode special characters.
	if database := strings.TrimSpace(cfg.Database); database != "" {
		uri.Path = "/" + database
	}

	if len(cfg.Query) > 0 {
		uri.RawQuery = cfg.Query.Encode()
	}

	return uri.String(), nil
}
