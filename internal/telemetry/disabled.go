package telemetry

import (
	"context"
	"fmt"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
)

var errDisabled = fmt.Errorf("%w: telemetry disabled", faults.ErrNetwork)

// Disabled stands in for the feed service when telemetry is turned off.
// Its probe always fails, so the link never comes up and nothing is sent.
type Disabled struct{}

func (Disabled) Publish(context.Context, Feed, any) error { return nil }

func (Disabled) Fetch(context.Context, Feed) (string, error) { return "", errDisabled }

func (Disabled) Probe(context.Context) error { return errDisabled }

func (Disabled) Close() error { return nil }
