package frame

import "fmt"

// CommandClass identifies a feature domain on a node, each with its own
// command set and negotiated version.
type CommandClass uint8

const (
	CommandClassNoOperation          CommandClass = 0x01
	CommandClassBasic                CommandClass = 0x20
	CommandClassSwitchBinary         CommandClass = 0x25
	CommandClassSwitchMultilevel     CommandClass = 0x26
	CommandClassThermostatMode       CommandClass = 0x40
	CommandClassMultiChannel         CommandClass = 0x60
	CommandClassUserCode             CommandClass = 0x63
	CommandClassBarrierOperator      CommandClass = 0x66
	CommandClassWindowCovering       CommandClass = 0x6a
	CommandClassConfiguration        CommandClass = 0x70
	CommandClassManufacturerSpecific CommandClass = 0x72
	CommandClassBattery              CommandClass = 0x80
	CommandClassClock                CommandClass = 0x81
	CommandClassWakeUp               CommandClass = 0x84
	CommandClassVersion              CommandClass = 0x86

	// CommandClassMark separates supported from controlled classes in a
	// node information frame.
	CommandClassMark CommandClass = 0xef
)

var commandClassNames = map[CommandClass]string{
	CommandClassNoOperation:          "NoOperation",
	CommandClassBasic:                "Basic",
	CommandClassSwitchBinary:         "SwitchBinary",
	CommandClassSwitchMultilevel:     "SwitchMultilevel",
	CommandClassThermostatMode:       "ThermostatMode",
	CommandClassMultiChannel:         "MultiChannel",
	CommandClassUserCode:             "UserCode",
	CommandClassBarrierOperator:      "BarrierOperator",
	CommandClassWindowCovering:       "WindowCovering",
	CommandClassConfiguration:        "Configuration",
	CommandClassManufacturerSpecific: "ManufacturerSpecific",
	CommandClassBattery:              "Battery",
	CommandClassClock:                "Clock",
	CommandClassWakeUp:               "WakeUp",
	CommandClassVersion:              "Version",
}

func (c CommandClass) String() string {
	if name, found := commandClassNames[c]; found {
		return name
	}

	return fmt.Sprintf("CommandClass(0x%02x)", uint8(c))
}
