package barrier_operator

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

const (
	BarrierOperatorSet                   uint8 = 0x01
	BarrierOperatorGet                   uint8 = 0x02
	BarrierOperatorReport                uint8 = 0x03
	BarrierOperatorSignalSupportedGet    uint8 = 0x04
	BarrierOperatorSignalSupportedReport uint8 = 0x05
	BarrierOperatorSignalSet             uint8 = 0x06
	BarrierOperatorSignalGet             uint8 = 0x07
	BarrierOperatorSignalReport          uint8 = 0x08
)

// Barrier states on the wire. Values between StateClosed and 0x63 are a
// stopped position as a percentage open.
const (
	StateClosed  uint8 = 0x00
	StateClosing uint8 = 0xfc
	StateStopped uint8 = 0xfd
	StateOpening uint8 = 0xfe
	StateOpen    uint8 = 0xff
)

const (
	StateKey       = "State"
	SignalKnownKey = "SignalsKnown"
	signalSection  = "Signal"
	SignalStateKey = "State"
)

// Update is raised when the barrier state changes.
type Update struct {
	Address communicator.Address
	State   uint8
}

// SignalUpdate is raised when a signalling subsystem changes state.
type SignalUpdate struct {
	Address communicator.Address
	Signal  uint
	On      bool
}

type Implementation struct {
	c capability.Controller
}

var _ capability.Implementation = (*Implementation)(nil)

func NewBarrierOperator() *Implementation {
	return &Implementation{}
}

func (i *Implementation) CommandClass() frame.CommandClass {
	return frame.CommandClassBarrierOperator
}

func (i *Implementation) Name() string {
	return "BarrierOperator"
}

func (i *Implementation) Attach(c capability.Controller) {
	i.c = c
}

func (i *Implementation) CommandSupported(commandID uint8) (bool, bool) {
	switch commandID {
	case BarrierOperatorSet, BarrierOperatorGet, BarrierOperatorReport,
		BarrierOperatorSignalSupportedGet, BarrierOperatorSignalSupportedReport,
		BarrierOperatorSignalSet, BarrierOperatorSignalGet, BarrierOperatorSignalReport:
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
		{
			Name: "QuerySupportedSignals",
			Run: func(ctx context.Context) error {
				_, err := i.QuerySupportedSignals(ctx)
				return err
			},
		},
		{
			Name: "QuerySignals",
			Run: func(ctx context.Context) error {
				signals, _ := i.CachedSupportedSignals()

				for _, signal := range signals {
					if _, err := i.QuerySignal(ctx, signal); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}

func (i *Implementation) HandleUnsolicited(_ context.Context, f frame.Frame) error {
	switch f.CommandID {
	case BarrierOperatorReport:
		return i.handleReport(f)
	case BarrierOperatorSignalSupportedReport:
		return i.handleSignalSupportedReport(f)
	case BarrierOperatorSignalReport:
		return i.handleSignalReport(f)
	default:
		return fmt.Errorf("barrier operator: unexpected unsolicited command 0x%02x", f.CommandID)
	}
}

func (i *Implementation) Detach(_ context.Context, detachType capability.DetachType) error {
	if detachType == capability.NoLongerSupported {
		s := i.c.Section()
		s.Delete(StateKey)
		s.Delete(SignalKnownKey)

		for _, k := range s.Section(signalSection).SectionKeys() {
			s.Section(signalSection).SectionDelete(k)
		}
	}

	return nil
}

// Open requests the barrier fully open.
func (i *Implementation) Open(ctx context.Context) error {
	return i.c.Send(ctx, frame.New(frame.CommandClassBarrierOperator, BarrierOperatorSet, []byte{StateOpen}))
}

// Close requests the barrier fully closed.
func (i *Implementation) Close(ctx context.Context) error {
	return i.c.Send(ctx, frame.New(frame.CommandClassBarrierOperator, BarrierOperatorSet, []byte{StateClosed}))
}

// Query fetches the current barrier state.
func (i *Implementation) Query(ctx context.Context) (uint8, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassBarrierOperator, BarrierOperatorGet, nil), BarrierOperatorReport, nil)
	if err != nil {
		return 0, err
	}

	if err := f.Require(1); err != nil {
		return 0, err
	}

	return f.Payload[0], nil
}

// State returns the last reported barrier state; ok is false until a
// report has been observed.
func (i *Implementation) State() (uint8, bool) {
	state, found := i.c.Section().Int(StateKey)
	return uint8(state), found
}

// SetSignal turns a signalling subsystem on or off.
func (i *Implementation) SetSignal(ctx context.Context, signal uint, on bool) error {
	return i.c.Send(ctx, frame.New(frame.CommandClassBarrierOperator, BarrierOperatorSignalSet, []byte{uint8(signal), frame.EncodeBool(on)}))
}

// QuerySupportedSignals fetches the supported signal bitmask. Signals no
// longer listed have their cached state dropped; signals still listed
// keep it; new signals start unknown.
func (i *Implementation) QuerySupportedSignals(ctx context.Context) ([]uint, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassBarrierOperator, BarrierOperatorSignalSupportedGet, nil), BarrierOperatorSignalSupportedReport, nil)
	if err != nil {
		return nil, err
	}

	if err := f.Require(1); err != nil {
		return nil, err
	}

	return frame.ParseBitmask(f.Payload), nil
}

// QuerySignal fetches one signal, awaiting the report that echoes this
// signal type so concurrent queries cannot cross.
func (i *Implementation) QuerySignal(ctx context.Context, signal uint) (bool, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassBarrierOperator, BarrierOperatorSignalGet, []byte{uint8(signal)}), BarrierOperatorSignalReport,
		func(f frame.Frame) bool {
			return len(f.Payload) > 0 && uint(f.Payload[0]) == signal
		})
	if err != nil {
		return false, err
	}

	_, on, err := parseSignalReport(f)
	return on, err
}

// CachedSupportedSignals returns the signal types from the last supported
// report; ok is false until one has been observed.
func (i *Implementation) CachedSupportedSignals() ([]uint, bool) {
	s := i.c.Section()

	if known, _ := s.Bool(SignalKnownKey); !known {
		return nil, false
	}

	var signals []uint

	for _, k := range s.Section(signalSection).SectionKeys() {
		if id, err := strconv.Atoi(k); err == nil {
			signals = append(signals, uint(id))
		}
	}

	sort.Slice(signals, func(a, b int) bool { return signals[a] < signals[b] })

	return signals, true
}

// CachedSignal returns the last reported state of a signal; ok is false
// while it is unknown.
func (i *Implementation) CachedSignal(signal uint) (bool, bool) {
	s := i.c.Section().Section(signalSection, strconv.Itoa(int(signal)))

	on, found := s.Bool(SignalStateKey)
	return on, found
}

func (i *Implementation) handleReport(f frame.Frame) error {
	if err := f.Require(1); err != nil {
		return err
	}

	state := f.Payload[0]

	previous, seen := i.State()
	changed := !seen || previous != state

	i.c.Section().Set(StateKey, int(state))
	capability.Touch(i.c.Section(), changed)

	if changed {
		i.c.SendEvent(Update{Address: i.c.Address(), State: state})
	}

	return nil
}

func parseSignalReport(f frame.Frame) (uint, bool, error) {
	if err := f.Require(2); err != nil {
		return 0, false, err
	}

	on, ok := frame.ParseBool(f.Payload[1])
	if !ok {
		return 0, false, frame.ErrMalformedFrame
	}

	return uint(f.Payload[0]), on, nil
}

func (i *Implementation) handleSignalReport(f frame.Frame) error {
	signal, on, err := parseSignalReport(f)
	if err != nil {
		return err
	}

	// Once the supported bitmask is known a report for a signal outside
	// it must not become a cached entry, or the supported set would grow
	// on the device's say so.
	s := i.c.Section()
	if known, _ := s.Bool(SignalKnownKey); known && !s.Section(signalSection).SectionExists(strconv.Itoa(int(signal))) {
		return fmt.Errorf("barrier operator: report for unadvertised signal %d", signal)
	}

	previous, seen := i.CachedSignal(signal)
	changed := !seen || previous != on

	i.c.Section().Section(signalSection, strconv.Itoa(int(signal))).Set(SignalStateKey, on)
	capability.Touch(i.c.Section(), changed)

	if changed {
		i.c.SendEvent(SignalUpdate{Address: i.c.Address(), Signal: signal, On: on})
	}

	return nil
}

func (i *Implementation) handleSignalSupportedReport(f frame.Frame) error {
	if err := f.Require(1); err != nil {
		return err
	}

	supported := frame.ParseBitmask(f.Payload)

	s := i.c.Section()
	signals := s.Section(signalSection)

	// Drop state for signals no longer advertised, keep the rest
	// untouched; newly advertised signals stay unknown until they
	// report.
	for _, k := range signals.SectionKeys() {
		id, err := strconv.Atoi(k)
		if err != nil || !frame.BitmaskContains(supported, uint(id)) {
			signals.SectionDelete(k)
		}
	}

	for _, id := range supported {
		signals.Section(strconv.Itoa(int(id)))
	}

	s.Set(SignalKnownKey, true)

	return nil
}
