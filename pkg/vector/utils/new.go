// Package vectorutils is the vector store utility package
package vectorutils

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/papercomputeco/stacks/pkg/vector"
	"github.com/papercomputeco/stacks/pkg/vector/chroma"
	"github.com/papercomputeco/stacks/pkg/vector/inmemory"
	"github.com/papercomputeco/stacks/pkg/vector/qdrant"
	"github.com/papercomputeco/stacks/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is the store address: an http(s) URL for chroma, host:port
	// for qdrant and a file path for sqlite.
	TargetURL      string
	CollectionName string
	APIKey         string
	Dimensions     uint
	Logger         *slog.Logger
}

func NewVectorDriver(o *NewVectorDriverOpts) (vector.Driver, error) {
	switch o.ProviderType {
	case "", "memory", "inmemory":
		return inmemory.NewDriver(inmemory.Config{Dimensions: o.Dimensions}, o.Logger), nil
	case "chroma":
		return chroma.NewDriver(chroma.Config{
			URL:            o.TargetURL,
			CollectionName: o.CollectionName,
			Dimensions:     o.Dimensions,
		}, o.Logger)
	case "qdrant":
		host, port, tls, err := parseQdrantTarget(o.TargetURL)
		if err != nil {
			return nil, err
		}
		return qdrant.NewDriver(qdrant.Config{
			Host:           host,
			Port:           port,
			APIKey:         o.APIKey,
			UseTLS:         tls,
			CollectionName: o.CollectionName,
			Dimensions:     o.Dimensions,
		}, o.Logger)
	case "sqlite", "sqlitevec":
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.TargetURL,
			Dimensions: o.Dimensions,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

// parseQdrantTarget accepts "host", "host:port" or a URL whose https scheme
// turns on TLS.
func parseQdrantTarget(target string) (string, int, bool, error) {
	if target == "" {
		return "", 0, false, fmt.Errorf("qdrant target is required")
	}

	useTLS := false
	hostport := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		useTLS = u.Scheme == "https"
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, qdrant.DefaultPort, useTLS, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}
