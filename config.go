package telemdb

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Config of a telemdb application. Fields carry go-flags tags, and may be
// populated from flags, environment or an INI file.
type Config struct {
	Log     LogConfig     `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Store   StoreConfig   `group:"Store" namespace:"store" env-namespace:"STORE"`
	Capture CaptureConfig `group:"Capture" namespace:"capture" env-namespace:"CAPTURE"`
	Sync    SyncConfig    `group:"Sync" namespace:"sync" env-namespace:"SYNC"`
}

// StoreConfig maps each StoreKind to a store URL.
type StoreConfig struct {
	Embedded    string `long:"embedded" env:"EMBEDDED" default:"sqlite://telemdb.db" description:"URL of the embedded store (sqlite://PATH or bolt://PATH)"`
	Remote      string `long:"remote" env:"REMOTE" description:"URL of the remote store (s3://BUCKET/PREFIX?region=.. or postgres://..)"`
	Compression string `long:"compression" env:"COMPRESSION" default:"snappy" choice:"none" choice:"snappy" choice:"lz4" choice:"zstd" choice:"gzip" description:"Compression of stored values"`
}

// CaptureConfig configures new captures.
type CaptureConfig struct {
	Kind     string `long:"kind" env:"KIND" default:"paging" choice:"paging" choice:"memory" description:"Capture implementation"`
	PageSize int    `long:"page-size" env:"PAGE_SIZE" default:"1000" description:"Samples per page of a paging capture"`
	System   string `long:"system" env:"SYSTEM" description:"Identifier of the system which owns new captures"`
}

// SyncConfig configures the synchronization engine.
type SyncConfig struct {
	From      string        `long:"from" env:"FROM" default:"embedded" choice:"memory" choice:"embedded" choice:"remote" description:"Store to synchronize from"`
	To        string        `long:"to" env:"TO" default:"remote" choice:"memory" choice:"embedded" choice:"remote" description:"Store to synchronize into"`
	BatchSize int           `long:"batch-size" env:"BATCH_SIZE" default:"100" description:"Keys compared per hash request"`
	Backoff   time.Duration `long:"backoff" env:"BACKOFF" default:"30s" description:"Delay between synchronization passes"`
	Delete    bool          `long:"delete" env:"DELETE" description:"Delete source records once synchronized"`
}

// TransporterConfig returns the TransporterConfig of the SyncConfig.
func (c SyncConfig) TransporterConfig() TransporterConfig {
	return TransporterConfig{
		BatchSize:           c.BatchSize,
		Backoff:             c.Backoff,
		DeleteAfterTransfer: c.Delete,
	}
}

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"warn" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// InitLog configures the logger.
func InitLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if cfg.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}
