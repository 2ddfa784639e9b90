package conf

import (
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/metrics"
	"github.com/switchyardai/switchyard/internal/pkg/xcache"
	"github.com/switchyardai/switchyard/internal/pkg/xredis"
	"github.com/switchyardai/switchyard/internal/server"
	"github.com/switchyardai/switchyard/internal/server/biz"
	"github.com/switchyardai/switchyard/internal/server/db"
	"github.com/switchyardai/switchyard/internal/server/orchestrator"
)

// Config is the full process configuration. It embeds fx.Out so that
// fx.Provide(conf.Load) feeds each section to its consumer directly.
type Config struct {
	fx.Out

	Log       log.Config     `conf:"log" yaml:"log" json:"log"`
	APIServer server.Config  `conf:"server" yaml:"server" json:"server"`
	DB        db.Config      `conf:"db" yaml:"db" json:"db"`
	Metrics   metrics.Config `conf:"metrics" yaml:"metrics" json:"metrics"`

	// Redis backs the shared rate window. Unset means in-process counting.
	Redis xredis.Config `conf:"redis" yaml:"redis" json:"redis"`

	// Cache backs the affinity store.
	Cache xcache.Config `conf:"cache" yaml:"cache" json:"cache"`

	Engine   biz.Config          `conf:"engine" yaml:"engine" json:"engine"`
	Auth     biz.AuthConfig      `conf:"auth" yaml:"auth" json:"auth"`
	Resolver orchestrator.Config `conf:"resolver" yaml:"resolver" json:"resolver"`
}

// Validate aggregates the section validations.
func (cfg Config) Validate() error {
	return multierr.Combine(
		cfg.APIServer.Validate(),
		cfg.Engine.Validate(),
		cfg.Resolver.Validate(),
	)
}
