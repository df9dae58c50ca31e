package switch_binary

import (
	"context"
	"fmt"
	"time"

	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

const (
	SwitchBinarySet    uint8 = 0x01
	SwitchBinaryGet    uint8 = 0x02
	SwitchBinaryReport uint8 = 0x03
)

const (
	OnKey       = "On"
	TargetOnKey = "TargetOn"
)

// Update is published whenever a report changes the cached switch state.
type Update struct {
	Address communicator.Address
	On      bool
}

var _ capability.Implementation = (*Implementation)(nil)

func NewSwitchBinary() *Implementation {
	return &Implementation{}
}

// Implementation speaks the Binary Switch command class: a two state
// actuator reporting 0x00/0xff, with a target value and transition duration
// appended from version 2.
type Implementation struct {
	c capability.Controller
}

func (i *Implementation) CommandClass() frame.CommandClass {
	return frame.CommandClassSwitchBinary
}

func (i *Implementation) Name() string {
	return "SwitchBinary"
}

func (i *Implementation) Attach(c capability.Controller) {
	i.c = c
}

func (i *Implementation) CommandSupported(commandID uint8) (bool, bool) {
	switch commandID {
	case SwitchBinarySet, SwitchBinaryGet, SwitchBinaryReport:
		return true, true
	default:
		return false, i.c.VersionKnown()
	}
}

func (i *Implementation) InterviewSteps() []capability.InterviewStep {
	return []capability.InterviewStep{
		{
			Name: "QueryState",
			Run: func(ctx context.Context) error {
				_, err := i.Query(ctx)
				return err
			},
		},
	}
}

func (i *Implementation) HandleUnsolicited(_ context.Context, f frame.Frame) error {
	return i.handleReport(f)
}

func (i *Implementation) Detach(_ context.Context, detachType capability.DetachType) error {
	if detachType == capability.NoLongerSupported {
		i.c.Section().Delete(OnKey)
		i.c.Section().Delete(TargetOnKey)
	}

	return nil
}

// Set requests the switch move to on/off. From version 2 a transition
// duration may be supplied; nil leaves the node's factory default in
// effect. Earlier versions carry no duration on the wire.
func (i *Implementation) Set(ctx context.Context, on bool, duration *time.Duration) error {
	payload := []byte{frame.EncodeBool(on)}

	if i.c.Version() >= 2 {
		d := frame.DurationDefault
		if duration != nil {
			d = frame.EncodeDuration(*duration)
		}

		payload = append(payload, d)
	}

	return i.c.Send(ctx, frame.New(frame.CommandClassSwitchBinary, SwitchBinarySet, payload))
}

func (i *Implementation) On(ctx context.Context) error {
	return i.Set(ctx, true, nil)
}

func (i *Implementation) Off(ctx context.Context) error {
	return i.Set(ctx, false, nil)
}

// Query fetches the current state from the node. The report refreshed the
// cache as it arrived; the value returned is decoded from the reply itself,
// so a later report is never clobbered by an older in flight one.
func (i *Implementation) Query(ctx context.Context) (bool, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassSwitchBinary, SwitchBinaryGet, nil), SwitchBinaryReport, nil)
	if err != nil {
		return false, err
	}

	return parseReport(f)
}

// State returns the cached switch state; ok is false until a report has
// been observed.
func (i *Implementation) State() (bool, bool) {
	return i.c.Section().Bool(OnKey)
}

func parseReport(f frame.Frame) (bool, error) {
	if err := f.Require(1); err != nil {
		return false, err
	}

	on, known := frame.ParseBool(f.Payload[0])
	if !known {
		return false, fmt.Errorf("%w: switch state byte 0x%02x", frame.ErrMalformedFrame, f.Payload[0])
	}

	return on, nil
}

func (i *Implementation) handleReport(f frame.Frame) error {
	on, err := parseReport(f)
	if err != nil {
		return err
	}

	s := i.c.Section()

	previous, seen := s.Bool(OnKey)
	changed := !seen || previous != on

	s.Set(OnKey, on)

	// Version 2 reports append target value and remaining duration.
	if i.c.Version() >= 2 && len(f.Payload) >= 2 {
		if target, known := frame.ParseBool(f.Payload[1]); known {
			s.Set(TargetOnKey, target)
		}
	}

	capability.Touch(s, changed)

	if changed {
		i.c.SendEvent(Update{Address: i.c.Address(), On: on})
	}

	return nil
}
