package executor

import (
	"fmt"
	"time"
)

// Policy drives how the batch size reacts to failures and successes.
type Policy struct {
	ShrinkFactor float64
	MinBatchSize int64
	MaxBatchSize int64
	GrowthStep   int64
	GrowAfter    int
	// Retries is the number of retry rounds a failed batch gets, at a reduced
	// size each time. 0 means 1, a negative value disables retries.
	Retries int
}

func (p Policy) WithDefaults(startingBatchSize int64) Policy {
	if p.ShrinkFactor == 0 {
		p.ShrinkFactor = 0.5
	}

	if p.MinBatchSize <= 0 {
		p.MinBatchSize = 1
	}

	if p.MaxBatchSize <= 0 {
		p.MaxBatchSize = startingBatchSize
	}

	if p.GrowthStep <= 0 {
		p.GrowthStep = max(1, startingBatchSize/10)
	}

	if p.GrowAfter <= 0 {
		p.GrowAfter = 10
	}

	switch {
	case p.Retries == 0:
		p.Retries = 1
	case p.Retries < 0:
		p.Retries = 0
	}

	return p
}

func (p Policy) Validate() error {
	if !(p.ShrinkFactor > 0 && p.ShrinkFactor < 1) {
		return fmt.Errorf("invalid ShrinkFactor value: %f", p.ShrinkFactor)
	}

	if p.MinBatchSize > p.MaxBatchSize {
		return fmt.Errorf("MinBatchSize (%d) is greater than MaxBatchSize (%d)", p.MinBatchSize, p.MaxBatchSize)
	}

	return nil
}

type Config struct {
	StartingBatchSize int64
	MaxWorkers        int
	ProgressInterval  time.Duration
	Policy            Policy
}

func (conf Config) WithDefaults() Config {
	if conf.StartingBatchSize <= 0 {
		conf.StartingBatchSize = 100
	}

	if conf.MaxWorkers <= 0 {
		conf.MaxWorkers = 5
	}

	if conf.ProgressInterval == 0 {
		conf.ProgressInterval = 10 * time.Second
	}

	conf.Policy = conf.Policy.WithDefaults(conf.StartingBatchSize)
	return conf
}
