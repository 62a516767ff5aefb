package streamer

import (
	"time"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/samber/lo"
)

type Config struct {
	Lag       int64
	BatchSize int64
	Period    time.Duration
	// RetryErrors keeps the engine looping after a failed window. Defaults to true.
	RetryErrors *bool
	StartBlock  *int64
	EndBlock    *int64
	PidFile     string
}

func (conf Config) WithDefaults() Config {
	if conf.BatchSize == 0 {
		conf.BatchSize = 10
	}

	if conf.Period == 0 {
		conf.Period = 10 * time.Second
	}

	if conf.RetryErrors == nil {
		conf.RetryErrors = lo.ToPtr(true)
	}

	return conf
}

func (conf Config) Validate() error {
	if conf.BatchSize <= 0 {
		return errs.Usagef("batch size must be positive, got %d", conf.BatchSize)
	}

	if conf.Lag < 0 {
		return errs.Usagef("lag must not be negative, got %d", conf.Lag)
	}

	if conf.Period < 0 {
		return errs.Usagef("period must not be negative, got %s", conf.Period)
	}

	if conf.StartBlock != nil && *conf.StartBlock < 0 {
		return errs.Usagef("start block must not be negative, got %d", *conf.StartBlock)
	}

	if conf.StartBlock != nil && conf.EndBlock != nil && *conf.EndBlock < *conf.StartBlock {
		return errs.Usagef("end block %d is before start block %d", *conf.EndBlock, *conf.StartBlock)
	}

	return nil
}

// CalculateTarget returns the last key of the next sync window, never below
// last. A target equal to last means there is nothing to sync.
func CalculateTarget(frontier int64, last int64, lag int64, batchSize int64, end *int64) int64 {
	var target = min(frontier-lag, last+batchSize)

	if end != nil {
		target = min(target, *end)
	}

	return max(target, last)
}
