package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pcider/printbot/internal/repository"
)

type CallbackKind int

const (
	CallbackClaim CallbackKind = iota + 1
	CallbackDMPreference
	CallbackLayer2Toggle
	CallbackUnclaim
	CallbackRestartPrinter
	CallbackHelp
)

var ErrMalformedCallback = errors.New("malformed callback data")

// Callback is button payload decoded once at the edge. PrinterIndex is
// 0-based and always in range for a successfully parsed value; Preference is
// only set for CallbackDMPreference.
type Callback struct {
	Kind         CallbackKind
	PrinterIndex int
	Preference   repository.DMPreference
}

const (
	prefixClaim          = "claim_"
	prefixDMPreference   = "dm_pref_"
	prefixLayer2Toggle   = "layer2_toggle_"
	prefixUnclaim        = "unclaim_"
	prefixRestartPrinter = "restart_printer_"
	dataHelp             = "help"
)

// ParseCallback decodes button payload. Unknown prefixes, non-numeric or
// out-of-range printer indexes and unknown preferences are rejected.
func ParseCallback(data string, printerCount int) (Callback, error) {
	switch {
	case data == dataHelp:
		return Callback{Kind: CallbackHelp}, nil

	case strings.HasPrefix(data, prefixDMPreference):
		rest := strings.TrimPrefix(data, prefixDMPreference)
		idxPart, prefPart, ok := strings.Cut(rest, "_")
		if !ok {
			return Callback{}, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
		}
		idx, err := parseIndex(idxPart, printerCount)
		if err != nil {
			return Callback{}, fmt.Errorf("%w: %q", err, data)
		}
		pref := repository.DMPreference(prefPart)
		if !pref.Valid() {
			return Callback{}, fmt.Errorf("%w: unknown preference in %q", ErrMalformedCallback, data)
		}
		return Callback{Kind: CallbackDMPreference, PrinterIndex: idx, Preference: pref}, nil

	case strings.HasPrefix(data, prefixLayer2Toggle):
		return indexedCallback(CallbackLayer2Toggle, data, prefixLayer2Toggle, printerCount)
	case strings.HasPrefix(data, prefixRestartPrinter):
		return indexedCallback(CallbackRestartPrinter, data, prefixRestartPrinter, printerCount)
	case strings.HasPrefix(data, prefixUnclaim):
		return indexedCallback(CallbackUnclaim, data, prefixUnclaim, printerCount)
	case strings.HasPrefix(data, prefixClaim):
		return indexedCallback(CallbackClaim, data, prefixClaim, printerCount)
	}
	return Callback{}, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
}

func indexedCallback(kind CallbackKind, data, prefix string, printerCount int) (Callback, error) {
	idx, err := parseIndex(strings.TrimPrefix(data, prefix), printerCount)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %q", err, data)
	}
	return Callback{Kind: kind, PrinterIndex: idx}, nil
}

func parseIndex(s string, printerCount int) (int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, ErrMalformedCallback
	}
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 || idx >= printerCount {
		return 0, ErrMalformedCallback
	}
	return idx, nil
}

// String encodes the callback back into button payload.
func (c Callback) String() string {
	switch c.Kind {
	case CallbackClaim:
		return prefixClaim + strconv.Itoa(c.PrinterIndex)
	case CallbackDMPreference:
		return fmt.Sprintf("%s%d_%s", prefixDMPreference, c.PrinterIndex, c.Preference)
	case CallbackLayer2Toggle:
		return prefixLayer2Toggle + strconv.Itoa(c.PrinterIndex)
	case CallbackUnclaim:
		return prefixUnclaim + strconv.Itoa(c.PrinterIndex)
	case CallbackRestartPrinter:
		return prefixRestartPrinter + strconv.Itoa(c.PrinterIndex)
	case CallbackHelp:
		return dataHelp
	default:
		return ""
	}
}

func ClaimData(idx int) string {
	return Callback{Kind: CallbackClaim, PrinterIndex: idx}.String()
}

func DMPreferenceData(idx int, pref repository.DMPreference) string {
	return Callback{Kind: CallbackDMPreference, PrinterIndex: idx, Preference: pref}.String()
}

func Layer2ToggleData(idx int) string {
	return Callback{Kind: CallbackLayer2Toggle, PrinterIndex: idx}.String()
}

func UnclaimData(idx int) string {
	return Callback{Kind: CallbackUnclaim, PrinterIndex: idx}.String()
}

func RestartPrinterData(idx int) string {
	return Callback{Kind: CallbackRestartPrinter, PrinterIndex: idx}.String()
}

// ClaimDeepLinkPayload is the /start payload that resumes a claim in DM.
func ClaimDeepLinkPayload(idx int) string {
	return ClaimData(idx)
}
