package daemon

import (
	"context"
	"io"

	"github.com/harun/mcpgate/internal/config"
	"github.com/harun/mcpgate/internal/logger"
	"github.com/harun/mcpgate/pkg/coretools"
	"github.com/harun/mcpgate/pkg/toolregistry"
)

// Catalog is a sealed registry and the upstream clients its proxies use.
type Catalog struct {
	Registry *toolregistry.Registry
	Closers  []io.Closer
}

// Close closes every upstream client.
func (c *Catalog) Close() {
	for _, closer := range c.Closers {
		_ = closer.Close()
	}
	c.Closers = nil
}

// BuildRegistry registers the built-in tools and the tools of every
// configured upstream server, then seals the registry. An unreachable
// upstream server is logged and skipped.
func BuildRegistry(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Catalog, error) {
	reg := toolregistry.New(toolregistry.Config{
		Logger:         log.Zerolog(),
		Timeout:        cfg.Tools.Timeout,
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
	})
	catalog := &Catalog{Registry: reg}

	if cfg.Tools.Builtin {
		if err := coretools.RegisterCoreTools(reg, coretools.Options{}); err != nil {
			return nil, err
		}
	}

	for _, remote := range cfg.Tools.Remote {
		rlog := log.Zerolog().With().Str("server", remote.Name).Str("url", remote.URL).Logger()

		client, closer, err := dialRemote(ctx, remote.URL)
		if err != nil {
			rlog.Warn().Err(err).Msg("Skipping unreachable tool server")
			continue
		}

		n, err := reg.RegisterSource(ctx, toolregistry.NewMCPSource(remote.Name, remote.Prefix, client, log.Zerolog()))
		if err != nil {
			_ = closer.Close()
			catalog.Close()
			return nil, err
		}
		catalog.Closers = append(catalog.Closers, closer)
		rlog.Info().Int("tools", n).Msg("Registered upstream tools")
	}

	reg.Seal()
	return catalog, nil
}
