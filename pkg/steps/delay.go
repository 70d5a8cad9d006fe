package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

type DelayConfig struct {
	Duration string   `json:"duration,omitempty"`
	Seconds  *float64 `json:"seconds,omitempty"`
}

// Parse returns the configured wait. Exactly one of duration and seconds must be set.
func (c DelayConfig) Parse() (time.Duration, error) {
	var d time.Duration

	switch {
	case c.Duration != "" && c.Seconds != nil:
		return 0, errors.New("delay accepts either duration or seconds, not both")
	case c.Duration != "":
		parsed, err := time.ParseDuration(c.Duration)
		if err != nil {
			return 0, fmt.Errorf("invalid delay duration: %w", err)
		}

		d = parsed
	case c.Seconds != nil:
		d = time.Duration(*c.Seconds * float64(time.Second))
	default:
		return 0, errors.New("delay needs a duration or seconds")
	}

	if d <= 0 {
		return 0, fmt.Errorf("delay must be positive, got %s", d)
	}

	return d, nil
}

type delay struct {
	*configDecoder
	clock clock.PassiveClock
}

func (h *delay) Execute(_ context.Context, in Input) Outcome {
	var config DelayConfig

	err := h.decode(in.Step.Config, &config)
	if err != nil {
		return Fail(err, false)
	}

	d, err := config.Parse()
	if err != nil {
		return Fail(err, false)
	}

	resumeAt := h.clock.Now().UTC().Add(d)

	return Wait(resumeAt, map[string]any{
		"duration":  d.String(),
		"resume_at": resumeAt.Format(time.RFC3339),
	})
}
