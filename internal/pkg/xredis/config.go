package xredis

import (
	"time"
)

// Config describes the engine's shared redis instance. The rate admission
// window counters and the affinity L2 both live on it, so the timeout and
// pool knobs are exposed for callers that sit on the request path. Zero
// values fall back to the driver defaults.
type Config struct {
	Addr                  string        `conf:"addr" yaml:"addr" json:"addr"`
	URL                   string        `conf:"url" yaml:"url" json:"url"`
	Username              string        `conf:"username" yaml:"username" json:"username"`
	Password              string        `conf:"password" yaml:"password" json:"password"`
	DB                    *int          `conf:"db" yaml:"db" json:"db"`
	TLS                   bool          `conf:"tls" yaml:"tls" json:"tls"`
	TLSInsecureSkipVerify bool          `conf:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`
	DialTimeout           time.Duration `conf:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout           time.Duration `conf:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout          time.Duration `conf:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	PoolSize              int           `conf:"pool_size" yaml:"pool_size" json:"pool_size"`
	Expiration            time.Duration `conf:"expiration" yaml:"expiration" json:"expiration"`
}
