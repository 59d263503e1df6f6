package sqlbulk

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/roach88/sqlbulk/internal/schema"
	"github.com/roach88/sqlbulk/internal/staging"
)

// Options are the tunables of a Repository.
type Options struct {
	// BatchSize caps the items sent to the store per statement round.
	BatchSize int `mapstructure:"batch_size" default:"50000" validate:"gte=1"`

	// MaxAttempts is the total executions allowed per batch, including the first.
	MaxAttempts int `mapstructure:"max_attempts" default:"3" validate:"gte=1,lte=100"`

	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" default:"50ms" validate:"gte=0"`

	// IncludeChunk caps the keys in one relation-loading IN list.
	IncludeChunk int `mapstructure:"include_chunk" default:"500" validate:"gte=1,lte=10000"`
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	_ = defaults.Set(&o)
	return o
}

// ParseOptions decodes a loosely typed option map (as found in a config
// file) over the defaults and validates the result.
func ParseOptions(opts map[string]any) (res *Options, err error) {
	res = new(Options)
	if err = defaults.Set(res); err != nil {
		return
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           res,
	})
	if err != nil {
		return
	}
	if err = dec.Decode(opts); err != nil {
		return
	}

	err = res.Validate()
	return
}

// Validate checks the option ranges.
func (o *Options) Validate() error {
	return validator.New().Struct(o)
}

// Clock supplies the wall time used to stamp created entities.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Repository.
type Option func(*Repository)

// WithOptions replaces all tunables at once.
func WithOptions(o Options) Option {
	return func(r *Repository) { r.opts = o }
}

// WithBatchSize sets the batch size.
func WithBatchSize(n int) Option {
	return func(r *Repository) { r.opts.BatchSize = n }
}

// WithMaxAttempts sets the per-batch attempt budget.
func WithMaxAttempts(n int) Option {
	return func(r *Repository) { r.opts.MaxAttempts = n }
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Repository) { r.opts.RetryDelay = d }
}

// WithLogger sets the logger. The default is slog.Default() tagged with
// component=sqlbulk.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.log = l }
}

// WithMapper shares an entity mapper between repositories.
func WithMapper(m *schema.Mapper) Option {
	return func(r *Repository) { r.mapper = m }
}

// WithConn makes the repository run every call on a caller-owned
// connection. The repository never closes it.
func WithConn(conn *sql.Conn) Option {
	return func(r *Repository) { r.conn = conn }
}

// WithNamer sets the staging-table suffix source.
func WithNamer(n staging.Namer) Option {
	return func(r *Repository) { r.namer = n }
}

// WithClock sets the clock used by BulkCreateAndReturn.
func WithClock(c Clock) Option {
	return func(r *Repository) { r.clock = c }
}
