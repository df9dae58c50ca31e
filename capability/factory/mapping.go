package factory

import (
	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/capability/barrier_operator"
	"github.com/shimmeringbee/zwc/capability/clock"
	"github.com/shimmeringbee/zwc/capability/switch_binary"
	"github.com/shimmeringbee/zwc/capability/thermostat_mode"
	"github.com/shimmeringbee/zwc/capability/user_code"
	"github.com/shimmeringbee/zwc/capability/window_covering"
	"github.com/shimmeringbee/zwc/frame"
)

const SwitchBinary = "SwitchBinary"
const ThermostatMode = "ThermostatMode"
const UserCode = "UserCode"
const BarrierOperator = "BarrierOperator"
const WindowCovering = "WindowCovering"
const Clock = "Clock"

// Mapping relates implementation names to the command class they serve.
var Mapping = map[string]frame.CommandClass{
	SwitchBinary:    frame.CommandClassSwitchBinary,
	ThermostatMode:  frame.CommandClassThermostatMode,
	UserCode:        frame.CommandClassUserCode,
	BarrierOperator: frame.CommandClassBarrierOperator,
	WindowCovering:  frame.CommandClassWindowCovering,
	Clock:           frame.CommandClassClock,
}

func Create(name string) capability.Implementation {
	switch name {
	case SwitchBinary:
		return switch_binary.NewSwitchBinary()
	case ThermostatMode:
		return thermostat_mode.NewThermostatMode()
	case UserCode:
		return user_code.NewUserCode()
	case BarrierOperator:
		return barrier_operator.NewBarrierOperator()
	case WindowCovering:
		return window_covering.NewWindowCovering()
	case Clock:
		return clock.NewClock()
	default:
		return nil
	}
}
