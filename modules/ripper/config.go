package ripper

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

// Write buffer sizing guidance (write-buffer-size):
// - SSD wear: fewer, larger writes reduce I/O overhead; 256KiB–1MiB is a good range.
// - NFS: larger buffers amortize round-trip cost; 512KiB–1MiB often performs better than 256KiB.
// - Upper bound: config is clamped to 4MiB to limit memory and avoid huge single writes.
const (
	defaultWriteBufferSize  = 256 * 1024 // 256 KiB
	defaultReconnectInitial = 5 * time.Second
	defaultReconnectMax     = 60 * time.Second
	defaultDialTimeout      = 5 * time.Second
	defaultReadTimeout      = 5 * time.Second
	defaultUserAgent        = "icyrip/0.1"
	defaultMinBuffer        = 512
	defaultHighWater        = 16 * 1024
	defaultReadSize         = 4 * 1024
)

type Config struct {
	URL                 string        `yaml:"url,omitempty"`
	Dir                 string        `yaml:"dir,omitempty"`
	WriteBufferSize     int           `yaml:"write-buffer-size,omitempty"`     // bytes handed to the file per write call
	ReconnectBackoff    time.Duration `yaml:"reconnect-backoff,omitempty"`     // initial delay before reconnecting after disconnect
	ReconnectBackoffMax time.Duration `yaml:"reconnect-backoff-max,omitempty"` // cap on reconnect delay (exponential backoff)
	ReconnectMaxRetries int           `yaml:"reconnect-max-retries,omitempty"` // 0 retries forever
	DialTimeout         time.Duration `yaml:"dial-timeout,omitempty"`
	ReadTimeout         time.Duration `yaml:"read-timeout,omitempty"`
	UserAgent           string        `yaml:"user-agent,omitempty"`

	// Stream buffering.
	MinBuffer int `yaml:"min-buffer,omitempty"`
	HighWater int `yaml:"high-water,omitempty"`
	ReadSize  int `yaml:"read-size,omitempty"`

	FlushIncomplete bool `yaml:"flush-incomplete,omitempty"` // write the unconfirmed tail when a connection ends
	KeepLongest     bool `yaml:"keep-longest,omitempty"`     // only replace an existing file with a larger one
	SanitizeTitles  bool `yaml:"sanitize-titles,omitempty"`  // make titles safe to use as file names
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "The URL from which to stream")
	f.StringVar(&cfg.Dir, util.PrefixConfig(prefix, "dir"), "", "The directory to save the data")
	f.IntVar(&cfg.WriteBufferSize, util.PrefixConfig(prefix, "write-buffer-size"), defaultWriteBufferSize,
		"Bytes handed to the file per write call (default 256KiB). Larger values reduce write frequency (helps SSD longevity and NFS). Reasonable range: 256KiB-1MiB.")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), defaultReconnectInitial,
		"Initial delay before reconnecting after stream disconnect. Exponential backoff is used up to reconnect-backoff-max.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), defaultReconnectMax,
		"Maximum delay between reconnection attempts.")
	f.IntVar(&cfg.ReconnectMaxRetries, util.PrefixConfig(prefix, "reconnect-max-retries"), 0,
		"Give up after this many consecutive failed connections. 0 retries forever.")
	f.DurationVar(&cfg.DialTimeout, util.PrefixConfig(prefix, "dial-timeout"), defaultDialTimeout,
		"Timeout for establishing the stream connection.")
	f.DurationVar(&cfg.ReadTimeout, util.PrefixConfig(prefix, "read-timeout"), defaultReadTimeout,
		"Timeout for a single read from the stream. A silent server is treated as disconnected.")
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), defaultUserAgent,
		"User-Agent sent to the stream server.")
	f.IntVar(&cfg.MinBuffer, util.PrefixConfig(prefix, "min-buffer"), defaultMinBuffer,
		"Bytes buffered before the stream is parsed.")
	f.IntVar(&cfg.HighWater, util.PrefixConfig(prefix, "high-water"), defaultHighWater,
		"Maximum bytes read ahead of the parser.")
	f.IntVar(&cfg.ReadSize, util.PrefixConfig(prefix, "read-size"), defaultReadSize,
		"Bytes requested from the socket per read.")
	f.BoolVar(&cfg.FlushIncomplete, util.PrefixConfig(prefix, "flush-incomplete"), false,
		"Write the audio received after the last title change as INCOMPLETE_<title> when the connection ends.")
	f.BoolVar(&cfg.KeepLongest, util.PrefixConfig(prefix, "keep-longest"), false,
		"Keep an existing recording unless the new one is larger.")
	f.BoolVar(&cfg.SanitizeTitles, util.PrefixConfig(prefix, "sanitize-titles"), false,
		"Replace path separators and control characters in titles before using them as file names.")
}

func (cfg *Config) applyDefaults() {
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = defaultReconnectInitial
	}
	if cfg.ReconnectBackoffMax == 0 {
		cfg.ReconnectBackoffMax = defaultReconnectMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectBackoff {
		cfg.ReconnectBackoffMax = cfg.ReconnectBackoff
	}
}
