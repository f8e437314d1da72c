package connection

import (
	"fmt"
	"net/url"

	"github.com/embedpop/embedpop/internal/codec"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
)

type Config struct {
	URL         url.URL
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
}

// NewConfig creates a Config for the endpoint at u, such as "ws://localhost:8000".
// Path, query and credentials of u are ignored here; the caller applies them after
// connecting.
func NewConfig(u *url.URL) *Config {
	c := models.CborCodec{}
	return &Config{
		URL:         *u,
		BaseURL:     fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.Nop(),
	}
}
