package printer

import (
	"strconv"
	"strings"
)

// GcodeState is the coarse job state reported by the printer firmware.
type GcodeState int

const (
	GcodeUnknown GcodeState = iota
	GcodeIdle
	GcodePrepare
	GcodeRunning
	GcodePause
	GcodeFinish
	GcodeFailed
)

var gcodeStateNames = map[GcodeState]string{
	GcodeUnknown: "UNKNOWN",
	GcodeIdle:    "IDLE",
	GcodePrepare: "PREPARE",
	GcodeRunning: "RUNNING",
	GcodePause:   "PAUSE",
	GcodeFinish:  "FINISH",
	GcodeFailed:  "FAILED",
}

func (s GcodeState) String() string {
	if name, ok := gcodeStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseGcodeState maps the firmware's gcode_state string. Anything
// unrecognised is GcodeUnknown.
func ParseGcodeState(raw string) GcodeState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IDLE":
		return GcodeIdle
	case "PREPARE", "SLICING":
		return GcodePrepare
	case "RUNNING":
		return GcodeRunning
	case "PAUSE":
		return GcodePause
	case "FINISH":
		return GcodeFinish
	case "FAILED":
		return GcodeFailed
	default:
		return GcodeUnknown
	}
}

// Active reports whether a job occupies the printer.
func (s GcodeState) Active() bool {
	return s != GcodeIdle && s != GcodeFinish && s != GcodeUnknown
}

// PrintStatus is the platform-specific sub-stage reported next to the gcode
// state (the firmware's stg_cur value).
type PrintStatus int

const (
	StatusUnknown  PrintStatus = -1
	StatusPrinting PrintStatus = 0
	StatusIdle     PrintStatus = 255
)

var printStatusNames = map[PrintStatus]string{
	StatusUnknown:  "UNKNOWN",
	StatusPrinting: "PRINTING",
	1:              "AUTO_BED_LEVELING",
	2:              "HEATBED_PREHEATING",
	3:              "SWEEPING_XY_MECH_MODE",
	4:              "CHANGING_FILAMENT",
	5:              "M400_PAUSE",
	6:              "PAUSED_FILAMENT_RUNOUT",
	7:              "HEATING_HOTEND",
	8:              "CALIBRATING_EXTRUSION",
	9:              "SCANNING_BED_SURFACE",
	10:             "INSPECTING_FIRST_LAYER",
	11:             "IDENTIFYING_BUILD_PLATE_TYPE",
	12:             "CALIBRATING_MICRO_LIDAR",
	13:             "HOMING_TOOLHEAD",
	14:             "CLEANING_NOZZLE_TIP",
	15:             "CHECKING_EXTRUDER_TEMPERATURE",
	16:             "PAUSED_USER",
	17:             "PAUSED_FRONT_COVER_FALLING",
	18:             "CALIBRATING_LIDAR",
	19:             "CALIBRATING_EXTRUSION_FLOW",
	20:             "PAUSED_NOZZLE_TEMPERATURE_MALFUNCTION",
	21:             "PAUSED_HEAT_BED_TEMPERATURE_MALFUNCTION",
	22:             "FILAMENT_UNLOADING",
	23:             "PAUSED_SKIPPED_STEP",
	24:             "FILAMENT_LOADING",
	25:             "CALIBRATING_MOTOR_NOISE",
	26:             "PAUSED_AMS_LOST",
	27:             "PAUSED_LOW_FAN_SPEED_HEAT_BREAK",
	28:             "PAUSED_CHAMBER_TEMPERATURE_CONTROL_ERROR",
	29:             "COOLING_CHAMBER",
	30:             "PAUSED_USER_GCODE",
	31:             "MOTOR_NOISE_SHOWOFF",
	32:             "PAUSED_NOZZLE_FILAMENT_COVERED_DETECTED",
	33:             "PAUSED_CUTTER_ERROR",
	34:             "PAUSED_FIRST_LAYER_ERROR",
	35:             "PAUSED_NOZZLE_CLOG",
	StatusIdle:     "IDLE",
}

func (s PrintStatus) String() string {
	if name, ok := printStatusNames[s]; ok {
		return name
	}
	return "STAGE_" + strconv.Itoa(int(s))
}
