package thermostat_mode

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
	ThermostatModeSet             uint8 = 0x01
	ThermostatModeGet             uint8 = 0x02
	ThermostatModeReport          uint8 = 0x03
	ThermostatModeSupportedGet    uint8 = 0x04
	ThermostatModeSupportedReport uint8 = 0x05
)

// Mode is a thermostat operating mode. Only the low five bits of the
// mode byte carry the mode.
type Mode uint8

const (
	ModeOff            Mode = 0x00
	ModeHeat           Mode = 0x01
	ModeCool           Mode = 0x02
	ModeAuto           Mode = 0x03
	ModeAuxiliary      Mode = 0x04
	ModeResume         Mode = 0x05
	ModeFan            Mode = 0x06
	ModeFurnace        Mode = 0x07
	ModeDry            Mode = 0x08
	ModeMoist          Mode = 0x09
	ModeAutoChangeover Mode = 0x0a
)

const modeMask = 0x1f

const (
	ModeKey           = "Mode"
	SupportedKnownKey = "SupportedKnown"
	supportedSection  = "SupportedMode"
)

// Update is raised when the reported mode changes.
type Update struct {
	Address communicator.Address
	Mode    Mode
}

type Implementation struct {
	c capability.Controller
}

var _ capability.Implementation = (*Implementation)(nil)

func NewThermostatMode() *Implementation {
	return &Implementation{}
}

func (i *Implementation) CommandClass() frame.CommandClass {
	return frame.CommandClassThermostatMode
}

func (i *Implementation) Name() string {
	return "ThermostatMode"
}

func (i *Implementation) Attach(c capability.Controller) {
	i.c = c
}

func (i *Implementation) CommandSupported(commandID uint8) (bool, bool) {
	switch commandID {
	case ThermostatModeSet, ThermostatModeGet, ThermostatModeReport,
		ThermostatModeSupportedGet, ThermostatModeSupportedReport:
		return true, true
	default:
		return false, i.c.VersionKnown()
	}
}

func (i *Implementation) InterviewSteps() []capability.InterviewStep {
	return []capability.InterviewStep{
		{
			Name: "QuerySupportedModes",
			Run: func(ctx context.Context) error {
				_, err := i.QuerySupported(ctx)
				return err
			},
		},
		{
			Name: "QueryMode",
			Run: func(ctx context.Context) error {
				_, err := i.Query(ctx)
				return err
			},
		},
	}
}

func (i *Implementation) HandleUnsolicited(_ context.Context, f frame.Frame) error {
	switch f.CommandID {
	case ThermostatModeReport:
		return i.handleReport(f)
	case ThermostatModeSupportedReport:
		return i.handleSupportedReport(f)
	default:
		return fmt.Errorf("thermostat mode: unexpected unsolicited command 0x%02x", f.CommandID)
	}
}

func (i *Implementation) Detach(_ context.Context, detachType capability.DetachType) error {
	if detachType == capability.NoLongerSupported {
		s := i.c.Section()
		s.Delete(ModeKey)
		s.Delete(SupportedKnownKey)

		for _, k := range s.Section(supportedSection).SectionKeys() {
			s.Section(supportedSection).SectionDelete(k)
		}
	}

	return nil
}

// SetMode requests a mode change. Modes outside the supported set are
// rejected locally once the supported set is known.
func (i *Implementation) SetMode(ctx context.Context, mode Mode) error {
	if supported, known := i.CachedSupported(); known && !frame.BitmaskContains(supported, uint(mode)) {
		return fmt.Errorf("thermostat mode: mode 0x%02x not supported by device", uint8(mode))
	}

	return i.c.Send(ctx, frame.New(frame.CommandClassThermostatMode, ThermostatModeSet, []byte{uint8(mode)}))
}

// Query fetches the current mode. The value returned is decoded from the
// reply itself; the cache was refreshed as the report arrived.
func (i *Implementation) Query(ctx context.Context) (Mode, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassThermostatMode, ThermostatModeGet, nil), ThermostatModeReport, nil)
	if err != nil {
		return ModeOff, err
	}

	return parseReport(f)
}

// QuerySupported fetches the supported mode bitmask.
func (i *Implementation) QuerySupported(ctx context.Context) ([]uint, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassThermostatMode, ThermostatModeSupportedGet, nil), ThermostatModeSupportedReport, nil)
	if err != nil {
		return nil, err
	}

	if err := f.Require(1); err != nil {
		return nil, err
	}

	return frame.ParseBitmask(f.Payload), nil
}

// CachedMode returns the last reported mode; ok is false until a report
// has been observed.
func (i *Implementation) CachedMode() (Mode, bool) {
	mode, found := i.c.Section().Int(ModeKey)
	return Mode(mode), found
}

// CachedSupported returns the modes from the last supported report; ok
// is false until one has been observed.
func (i *Implementation) CachedSupported() ([]uint, bool) {
	s := i.c.Section()

	if known, _ := s.Bool(SupportedKnownKey); !known {
		return nil, false
	}

	var supported []uint

	for _, k := range s.Section(supportedSection).SectionKeys() {
		if mode, err := strconv.Atoi(k); err == nil {
			supported = append(supported, uint(mode))
		}
	}

	sort.Slice(supported, func(a, b int) bool { return supported[a] < supported[b] })

	return supported, true
}

func parseReport(f frame.Frame) (Mode, error) {
	if err := f.Require(1); err != nil {
		return ModeOff, err
	}

	return Mode(f.Payload[0] & modeMask), nil
}

func (i *Implementation) handleReport(f frame.Frame) error {
	mode, err := parseReport(f)
	if err != nil {
		return err
	}

	previous, seen := i.CachedMode()
	changed := !seen || previous != mode

	i.c.Section().Set(ModeKey, int(mode))
	capability.Touch(i.c.Section(), changed)

	if changed {
		i.c.SendEvent(Update{Address: i.c.Address(), Mode: mode})
	}

	return nil
}

func (i *Implementation) handleSupportedReport(f frame.Frame) error {
	if err := f.Require(1); err != nil {
		return err
	}

	supported := frame.ParseBitmask(f.Payload)

	s := i.c.Section()
	modes := s.Section(supportedSection)

	for _, k := range modes.SectionKeys() {
		mode, err := strconv.Atoi(k)
		if err != nil || !frame.BitmaskContains(supported, uint(mode)) {
			modes.SectionDelete(k)
		}
	}

	for _, mode := range supported {
		modes.Section(strconv.Itoa(int(mode)))
	}

	s.Set(SupportedKnownKey, true)

	return nil
}
