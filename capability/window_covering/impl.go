package window_covering

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

const (
	WindowCoveringSupportedGet    uint8 = 0x01
	WindowCoveringSupportedReport uint8 = 0x02
	WindowCoveringGet             uint8 = 0x03
	WindowCoveringReport          uint8 = 0x04
	WindowCoveringSet             uint8 = 0x05
)

const (
	parameterSection  = "parameter"
	SupportedKnownKey = "SupportedKnown"
	ValueKey          = "Value"
	TargetKey         = "Target"
)

// Parameter is the cached state of one covering dimension (out left, in
// right, slats angle, ...), identified by the parameter number from the
// supported bitmask.
type Parameter struct {
	ID     uint
	Value  uint8
	Target uint8
}

type Update struct {
	Address   communicator.Address
	Parameter Parameter
}

var _ capability.Implementation = (*Implementation)(nil)

func NewWindowCovering() *Implementation {
	return &Implementation{}
}

// Implementation speaks the Window Covering command class: a set of
// independently positioned parameters discovered from a supported bitmask.
// Reports for different parameters share one command identifier and are
// told apart by the parameter number they echo.
type Implementation struct {
	c capability.Controller
}

func (i *Implementation) CommandClass() frame.CommandClass {
	return frame.CommandClassWindowCovering
}

func (i *Implementation) Name() string {
	return "WindowCovering"
}

func (i *Implementation) Attach(c capability.Controller) {
	i.c = c
}

func (i *Implementation) CommandSupported(commandID uint8) (bool, bool) {
	switch commandID {
	case WindowCoveringSupportedGet, WindowCoveringSupportedReport, WindowCoveringGet, WindowCoveringReport, WindowCoveringSet:
		return true, true
	default:
		return false, i.c.VersionKnown()
	}
}

func (i *Implementation) InterviewSteps() []capability.InterviewStep {
	return []capability.InterviewStep{
		{
			Name: "QuerySupported",
			Run: func(ctx context.Context) error {
				_, err := i.QuerySupported(ctx)
				return err
			},
		},
		{
			Name: "QueryParameters",
			Run: func(ctx context.Context) error {
				supported, _ := i.CachedSupported()

				for _, id := range supported {
					if _, err := i.QueryParameter(ctx, id); err != nil {
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
	case WindowCoveringReport:
		return i.handleReport(f)
	case WindowCoveringSupportedReport:
		return i.handleSupportedReport(f)
	default:
		return fmt.Errorf("window covering: unexpected unsolicited command 0x%02x", f.CommandID)
	}
}

func (i *Implementation) Detach(_ context.Context, detachType capability.DetachType) error {
	if detachType == capability.NoLongerSupported {
		s := i.c.Section()
		s.Delete(SupportedKnownKey)

		for _, k := range s.Section(parameterSection).SectionKeys() {
			s.Section(parameterSection).SectionDelete(k)
		}
	}

	return nil
}

// SetParameter requests a parameter move to value over duration; a nil
// duration requests the factory default speed.
func (i *Implementation) SetParameter(ctx context.Context, id uint, value uint8, duration *time.Duration) error {
	d := frame.DurationDefault
	if duration != nil {
		d = frame.EncodeDuration(*duration)
	}

	return i.c.Send(ctx, frame.New(frame.CommandClassWindowCovering, WindowCoveringSet, []byte{uint8(id), value, d}))
}

// QuerySupported fetches the supported parameter bitmask. Parameters no
// longer listed have their cached state dropped; parameters still listed
// keep it; new parameters start unknown.
func (i *Implementation) QuerySupported(ctx context.Context) ([]uint, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassWindowCovering, WindowCoveringSupportedGet, nil), WindowCoveringSupportedReport, nil)
	if err != nil {
		return nil, err
	}

	if err := f.Require(1); err != nil {
		return nil, err
	}

	return frame.ParseBitmask(f.Payload), nil
}

// QueryParameter fetches one parameter, awaiting the report that echoes
// this parameter number so concurrent queries cannot cross.
func (i *Implementation) QueryParameter(ctx context.Context, id uint) (Parameter, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassWindowCovering, WindowCoveringGet, []byte{uint8(id)}), WindowCoveringReport,
		func(f frame.Frame) bool {
			return len(f.Payload) > 0 && uint(f.Payload[0]) == id
		})
	if err != nil {
		return Parameter{}, err
	}

	return parseReport(f)
}

// CachedSupported returns the parameter numbers from the last supported
// report; ok is false until one has been observed.
func (i *Implementation) CachedSupported() ([]uint, bool) {
	s := i.c.Section()

	if known, _ := s.Bool(SupportedKnownKey); !known {
		return nil, false
	}

	var supported []uint

	for _, k := range s.Section(parameterSection).SectionKeys() {
		if id, err := strconv.Atoi(k); err == nil {
			supported = append(supported, uint(id))
		}
	}

	sort.Slice(supported, func(a, b int) bool { return supported[a] < supported[b] })

	return supported, true
}

// CachedParameter returns the last reported state of a parameter; ok is
// false while it is unknown, including for a freshly supported parameter
// that has not reported yet.
func (i *Implementation) CachedParameter(id uint) (Parameter, bool) {
	s := i.c.Section().Section(parameterSection, strconv.Itoa(int(id)))

	value, found := s.Int(ValueKey)
	if !found {
		return Parameter{}, false
	}

	target, _ := s.Int(TargetKey)

	return Parameter{ID: id, Value: uint8(value), Target: uint8(target)}, true
}

func parseReport(f frame.Frame) (Parameter, error) {
	if err := f.Require(3); err != nil {
		return Parameter{}, err
	}

	return Parameter{ID: uint(f.Payload[0]), Value: f.Payload[1], Target: f.Payload[2]}, nil
}

func (i *Implementation) handleReport(f frame.Frame) error {
	p, err := parseReport(f)
	if err != nil {
		return err
	}

	// Once the supported bitmask is known a report for a parameter outside
	// it must not become a cached entry, or the supported set would grow
	// on the device's say so.
	if known, _ := i.c.Section().Bool(SupportedKnownKey); known && !i.c.Section().Section(parameterSection).SectionExists(strconv.Itoa(int(p.ID))) {
		return fmt.Errorf("window covering: report for unadvertised parameter %d", p.ID)
	}

	previous, seen := i.CachedParameter(p.ID)
	changed := !seen || previous != p

	s := i.c.Section().Section(parameterSection, strconv.Itoa(int(p.ID)))
	s.Set(ValueKey, int(p.Value))
	s.Set(TargetKey, int(p.Target))

	capability.Touch(i.c.Section(), changed)

	if changed {
		i.c.SendEvent(Update{Address: i.c.Address(), Parameter: p})
	}

	return nil
}

func (i *Implementation) handleSupportedReport(f frame.Frame) error {
	if err := f.Require(1); err != nil {
		return err
	}

	supported := frame.ParseBitmask(f.Payload)

	s := i.c.Section()
	params := s.Section(parameterSection)

	// Drop state for parameters no longer advertised, keep the rest
	// untouched; newly advertised parameters stay unknown until they
	// report.
	for _, k := range params.SectionKeys() {
		id, err := strconv.Atoi(k)
		if err != nil || !frame.BitmaskContains(supported, uint(id)) {
			params.SectionDelete(k)
		}
	}

	for _, id := range supported {
		params.Section(strconv.Itoa(int(id)))
	}

	s.Set(SupportedKnownKey, true)

	return nil
}
