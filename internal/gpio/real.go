//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives a line on the Linux GPIO character device.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	pin  int
}

// NewRealOutput requests pin as an output with the given initial logical level.
func NewRealOutput(chipName string, pin int, initial bool) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(level(initial)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}

	return &RealOutput{chip: chip, line: line, pin: pin}, nil
}

// Set drives the line.
func (o *RealOutput) Set(active bool) error {
	if err := o.line.SetValue(level(active)); err != nil {
		return fmt.Errorf("set pin %d: %w", o.pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing, so the relay cannot be left energised across a restart.
func (o *RealOutput) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", o.pin, err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", o.pin, err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func level(active bool) int {
	if active {
		return 1
	}
	return 0
}
