package monitor

import "github.com/pcider/printbot/internal/printer"

type EventKind int

const (
	KindStateChanged EventKind = iota
	KindPrintStarted
	KindPrintFinished
	KindPrintFailed
	KindPrintPaused
	KindLayerChanged
)

func (k EventKind) String() string {
	switch k {
	case KindStateChanged:
		return "STATE_CHANGED"
	case KindPrintStarted:
		return "PRINT_STARTED"
	case KindPrintFinished:
		return "PRINT_FINISHED"
	case KindPrintFailed:
		return "PRINT_FAILED"
	case KindPrintPaused:
		return "PRINT_PAUSED"
	case KindLayerChanged:
		return "LAYER_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Event is one domain event derived from a poll pass. The concrete types
// below are the only implementations.
type Event interface {
	Kind() EventKind
	Printer() int
	isEvent()
}

type eventBase struct {
	PrinterIndex int
}

func (e eventBase) Printer() int { return e.PrinterIndex }
func (eventBase) isEvent()       {}

// StateChanged is a gcode_state transition.
type StateChanged struct {
	eventBase
	Prev printer.GcodeState
	New  printer.GcodeState
}

func (StateChanged) Kind() EventKind { return KindStateChanged }

// StatusChanged is a print_status transition. It shares the STATE_CHANGED
// kind but only ever gets logged.
type StatusChanged struct {
	eventBase
	Prev printer.PrintStatus
	New  printer.PrintStatus
}

func (StatusChanged) Kind() EventKind { return KindStateChanged }

type PrintStarted struct {
	eventBase
	// PrintTime is the remaining-time estimate in minutes at detection.
	PrintTime int
}

func (PrintStarted) Kind() EventKind { return KindPrintStarted }

type PrintFinished struct {
	eventBase
}

func (PrintFinished) Kind() EventKind { return KindPrintFinished }

type PrintFailed struct {
	eventBase
	ErrorCode int
}

func (PrintFailed) Kind() EventKind { return KindPrintFailed }

type PrintPaused struct {
	eventBase
	ErrorCode int
}

func (PrintPaused) Kind() EventKind { return KindPrintPaused }

type LayerChanged struct {
	eventBase
	PrevLayer int
	Layer     int
}

func (LayerChanged) Kind() EventKind { return KindLayerChanged }

func NewStateChanged(idx int, prev, next printer.GcodeState) StateChanged {
	return StateChanged{eventBase: eventBase{PrinterIndex: idx}, Prev: prev, New: next}
}

func NewStatusChanged(idx int, prev, next printer.PrintStatus) StatusChanged {
	return StatusChanged{eventBase: eventBase{PrinterIndex: idx}, Prev: prev, New: next}
}

func NewPrintStarted(idx, printTime int) PrintStarted {
	return PrintStarted{eventBase: eventBase{PrinterIndex: idx}, PrintTime: printTime}
}

func NewPrintFinished(idx int) PrintFinished {
	return PrintFinished{eventBase: eventBase{PrinterIndex: idx}}
}

func NewPrintFailed(idx, errorCode int) PrintFailed {
	return PrintFailed{eventBase: eventBase{PrinterIndex: idx}, ErrorCode: errorCode}
}

func NewPrintPaused(idx, errorCode int) PrintPaused {
	return PrintPaused{eventBase: eventBase{PrinterIndex: idx}, ErrorCode: errorCode}
}

func NewLayerChanged(idx, prevLayer, layer int) LayerChanged {
	return LayerChanged{eventBase: eventBase{PrinterIndex: idx}, PrevLayer: prevLayer, Layer: layer}
}
