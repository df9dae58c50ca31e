package user_code

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

const (
	UserCodeSet       uint8 = 0x01
	UserCodeGet       uint8 = 0x02
	UserCodeReport    uint8 = 0x03
	UsersNumberGet    uint8 = 0x04
	UsersNumberReport uint8 = 0x05
)

// User slot status byte. A code is carried on the wire only while the slot
// is occupied.
const (
	StatusAvailable uint8 = 0x00
	StatusOccupied  uint8 = 0x01
)

const (
	UserCountKey  = "UserCount"
	userSection   = "user"
	StatusKey     = "Status"
	CodeKey       = "Code"
	minCodeLength = 4
	maxCodeLength = 10
)

// Slot is the state of one user code slot.
type Slot struct {
	UserID   uint8
	Occupied bool
	Code     string
}

type Update struct {
	Address communicator.Address
	Slot    Slot
}

var _ capability.Implementation = (*Implementation)(nil)

func NewUserCode() *Implementation {
	return &Implementation{}
}

// Implementation speaks the User Code command class: a store of PIN code
// slots addressed by user identifier. Many slot queries may be outstanding
// at once; replies are told apart by the user identifier they echo.
type Implementation struct {
	c capability.Controller
}

func (i *Implementation) CommandClass() frame.CommandClass {
	return frame.CommandClassUserCode
}

func (i *Implementation) Name() string {
	return "UserCode"
}

func (i *Implementation) Attach(c capability.Controller) {
	i.c = c
}

func (i *Implementation) CommandSupported(commandID uint8) (bool, bool) {
	switch commandID {
	case UserCodeSet, UserCodeGet, UserCodeReport, UsersNumberGet, UsersNumberReport:
		return true, true
	default:
		return false, i.c.VersionKnown()
	}
}

func (i *Implementation) InterviewSteps() []capability.InterviewStep {
	return []capability.InterviewStep{
		{
			Name: "QueryUserCount",
			Run: func(ctx context.Context) error {
				_, err := i.QueryUserCount(ctx)
				return err
			},
		},
	}
}

func (i *Implementation) HandleUnsolicited(_ context.Context, f frame.Frame) error {
	switch f.CommandID {
	case UserCodeReport:
		return i.handleCodeReport(f)
	case UsersNumberReport:
		return i.handleUsersNumberReport(f)
	default:
		return fmt.Errorf("user code: unexpected unsolicited command 0x%02x", f.CommandID)
	}
}

func (i *Implementation) Detach(_ context.Context, detachType capability.DetachType) error {
	if detachType == capability.NoLongerSupported {
		s := i.c.Section()
		s.Delete(UserCountKey)

		for _, k := range s.Section(userSection).SectionKeys() {
			s.Section(userSection).SectionDelete(k)
		}
	}

	return nil
}

// SetCode stores an ASCII code (4-10 characters) in a user slot.
func (i *Implementation) SetCode(ctx context.Context, userID uint8, code string) error {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return fmt.Errorf("user code: length %d outside %d-%d", len(code), minCodeLength, maxCodeLength)
	}

	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("user code: non digit character %q", r)
		}
	}

	payload := append([]byte{userID, StatusOccupied}, code...)

	return i.c.Send(ctx, frame.New(frame.CommandClassUserCode, UserCodeSet, payload))
}

// ClearCode releases a user slot; no code bytes accompany an available
// status.
func (i *Implementation) ClearCode(ctx context.Context, userID uint8) error {
	return i.c.Send(ctx, frame.New(frame.CommandClassUserCode, UserCodeSet, []byte{userID, StatusAvailable}))
}

// QuerySlot fetches one slot, awaiting the report that echoes this user
// identifier so concurrent queries for different slots cannot cross.
func (i *Implementation) QuerySlot(ctx context.Context, userID uint8) (Slot, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassUserCode, UserCodeGet, []byte{userID}), UserCodeReport,
		func(f frame.Frame) bool {
			return len(f.Payload) > 0 && f.Payload[0] == userID
		})
	if err != nil {
		return Slot{}, err
	}

	return parseCodeReport(f)
}

// QueryUserCount fetches how many slots the node offers. The count is a
// single byte at version 1 and two bytes big-endian from version 2.
func (i *Implementation) QueryUserCount(ctx context.Context) (uint16, error) {
	f, err := i.c.Exchange(ctx, frame.New(frame.CommandClassUserCode, UsersNumberGet, nil), UsersNumberReport, nil)
	if err != nil {
		return 0, err
	}

	count, _, ok := frame.ParseCount(f.Payload, i.c.Version() >= 2)
	if !ok {
		return 0, fmt.Errorf("%w: users number report", frame.ErrMalformedFrame)
	}

	return count, nil
}

func (i *Implementation) CachedUserCount() (uint16, bool) {
	v, found := i.c.Section().Int(UserCountKey)
	return uint16(v), found
}

func (i *Implementation) CachedSlot(userID uint8) (Slot, bool) {
	s := i.c.Section().Section(userSection, strconv.Itoa(int(userID)))

	status, found := s.Int(StatusKey)
	if !found {
		return Slot{}, false
	}

	code, _ := s.String(CodeKey)

	return Slot{UserID: userID, Occupied: uint8(status) == StatusOccupied, Code: code}, true
}

func parseCodeReport(f frame.Frame) (Slot, error) {
	if err := f.Require(2); err != nil {
		return Slot{}, err
	}

	slot := Slot{UserID: f.Payload[0], Occupied: f.Payload[1] == StatusOccupied}
	if slot.Occupied {
		slot.Code = string(f.Payload[2:])
	}

	return slot, nil
}

func (i *Implementation) handleCodeReport(f frame.Frame) error {
	slot, err := parseCodeReport(f)
	if err != nil {
		return err
	}

	previous, seen := i.CachedSlot(slot.UserID)
	changed := !seen || previous != slot

	s := i.c.Section().Section(userSection, strconv.Itoa(int(slot.UserID)))
	s.Set(StatusKey, int(f.Payload[1]))

	if slot.Occupied {
		s.Set(CodeKey, slot.Code)
	} else {
		s.Delete(CodeKey)
	}

	capability.Touch(i.c.Section(), changed)

	if changed {
		i.c.SendEvent(Update{Address: i.c.Address(), Slot: slot})
	}

	return nil
}

func (i *Implementation) handleUsersNumberReport(f frame.Frame) error {
	count, _, ok := frame.ParseCount(f.Payload, i.c.Version() >= 2)
	if !ok {
		return fmt.Errorf("%w: users number report", frame.ErrMalformedFrame)
	}

	i.c.Section().Set(UserCountKey, int(count))

	return nil
}
