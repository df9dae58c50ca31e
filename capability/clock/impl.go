package clock

import (
	"context"
	"fmt"

	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

const (
	ClockSet    uint8 = 0x04
	ClockGet    uint8 = 0x05
	ClockReport uint8 = 0x06
)

const (
	WeekdayKey = "Weekday"
	HourKey    = "Hour"
	MinuteKey  = "Minute"
)

// Time is the clock state a node reports: weekday 1-7 (0 unknown), hour
// 0-23, minute 0-59.
type Time struct {
	Weekday uint8
	Hour    uint8
	Minute  uint8
}

type Update struct {
	Address communicator.Address
	Time    Time
}

var _ capability.Implementation = (*Implementation)(nil)

func NewClock() *Implementation {
	return &Implementation{}
}

type Implementation struct {
	c capability.Controller
}

func (i *Implementation) CommandClass() frame.CommandClass {
	return frame.CommandClassClock
}

func (i *Implementation) Name() string {
	return "Clock"
}

func (i *Implementation) Attach(c capability.Controller) {
	i.c = c
}

func (i *Implementation) CommandSupported(commandID uint8) (bool, bool) {
	switch commandID {
	case ClockSet, ClockGet, ClockReport:
		return true, true
	default:
		return false, i.c.VersionKnown()
	}
}

func (i *Implementation) InterviewSteps() []capability.InterviewStep {
	return []capability.InterviewStep{
		{
			Name: "QueryTime",
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
		s := i.c.Section()
		s.Delete(WeekdayKey)
		s.Delete(HourKey)
		s.Delete(MinuteKey)
	}

	return nil
}

// Set writes the node's clock. Weekday must be 1-7, Monday first.
func (i *Implementation) Set(ctx context.Context, t Time) error {
	if t.Weekday < 1 || t.Weekday > 7 {
		return fmt.Errorf("clock set: weekday %d not in range 1-7", t.Weekday)
	}

	if t.Hour > 23 {
		return fmt.Errorf("clock set: hour %d not in range 0-23", t.Hour)
	}

	if t.Minute > 59 {
		return fmt.Errorf("clock set: minute %d not in range 0-59", t.Minute)
	}

	b0, b1 := frame.EncodeDayTime(t.Weekday, t.Hour, t.Minute)

	return i.c.Send(ctx, frame.New(frame.CommandClassClock, ClockSet, []byte{b0, b1}))
}

// Query fetches the node's clock. The value returned is decoded from the
// reply itself; the cache was refreshed as the report arrived.
func (i *Implementation) Query(ctx context.Context) (Time, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassClock, ClockGet, nil), ClockReport, nil)
	if err != nil {
		return Time{}, err
	}

	return parseReport(f)
}

// Cached returns the last reported clock state; ok is false until a report
// has been observed.
func (i *Implementation) Cached() (Time, bool) {
	s := i.c.Section()

	weekday, found := s.Int(WeekdayKey)
	if !found {
		return Time{}, false
	}

	hour, _ := s.Int(HourKey)
	minute, _ := s.Int(MinuteKey)

	return Time{Weekday: uint8(weekday), Hour: uint8(hour), Minute: uint8(minute)}, true
}

func parseReport(f frame.Frame) (Time, error) {
	if err := f.Require(2); err != nil {
		return Time{}, err
	}

	weekday, hour, minute, ok := frame.ParseDayTime(f.Payload[0], f.Payload[1])
	if !ok {
		return Time{}, fmt.Errorf("%w: clock report %02x%02x out of range", frame.ErrMalformedFrame, f.Payload[0], f.Payload[1])
	}

	return Time{Weekday: weekday, Hour: hour, Minute: minute}, nil
}

func (i *Implementation) handleReport(f frame.Frame) error {
	t, err := parseReport(f)
	if err != nil {
		return err
	}

	previous, seen := i.Cached()
	changed := !seen || previous != t

	s := i.c.Section()
	s.Set(WeekdayKey, int(t.Weekday))
	s.Set(HourKey, int(t.Hour))
	s.Set(MinuteKey, int(t.Minute))

	capability.Touch(s, changed)

	if changed {
		i.c.SendEvent(Update{Address: i.c.Address(), Time: t})
	}

	return nil
}
