package zcall

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type ConnectionConfig struct {
	Wbuf            int           `toml:"wbuf"`
	Rbuf            int           `toml:"rbuf"`
	RTO             time.Duration `toml:"read_timeout"`
	WTO             time.Duration `toml:"write_timeout"`
	DialTimeout     time.Duration `toml:"dial_timeout"`
	DefaultReadSize int           `toml:"default_read_size"`
	// MaxFrameSize bounds frame payloads in both directions, DefaultMaxFrameSize if zero
	MaxFrameSize int `toml:"max_frame_size"`
	// InvocationTimeout applies to Invoke calls whose context has no deadline
	InvocationTimeout time.Duration `toml:"invocation_timeout"`
	OnClose           func(*Connection, error) `toml:"-"`
}

type ServerConfig struct {
	Connection ConnectionConfig `toml:"connection"`
}

// PoolConfig sizes an invocation Pool
type PoolConfig struct {
	MaxConns       int `toml:"max_conns"`
	MaxIdlePerConn int `toml:"max_idle_per_conn"`
}

// Config is the file form of the knobs above
type Config struct {
	Addr   string           `toml:"addr"`
	Client ConnectionConfig `toml:"client"`
	Server ServerConfig     `toml:"server"`
	Pool   PoolConfig       `toml:"pool"`
}

// LoadConfig decodes a toml file, durations are written like "5s"
func LoadConfig(path string) (cfg Config, err error) {
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		err = fmt.Errorf("zcall: load config %s: %w", path, err)
		return
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		err = fmt.Errorf("zcall: unknown config keys in %s: %v", path, undecoded)
		return
	}
	return
}
