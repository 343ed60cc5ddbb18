package bot

import (
	"fmt"
	"strings"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/printer"
	"github.com/pcider/printbot/internal/repository"
)

const (
	buttonClaim           = "Claim Print"
	buttonUnclaim         = "Unclaim Print"
	buttonHelp            = "Help"
	buttonMainChat        = "Main Chat (Recommended)"
	buttonDMOnly          = "Send to DM only"
	buttonStartDM         = "Start DM with bot"
	buttonRestart         = "Restart Printer"
	buttonLayer2Format    = "Layer 2 Notify: %s"
	messageSessionEnded   = "This print session has ended."
	messageNotClaimer     = "You are not the claimer of this print."
	messageOwnerOnly      = "Only the owner can restart printers."
	messageWelcome        = "Welcome! Use the buttons in the main chat to claim prints."
	messageNoCameraAccess = "You don't have access to any printer camera."

	messageStartedFormat       = "Printer %d has started printing. (time: %s, layers: %d)"
	messageRestoredFormat      = "Printer %d has started printing.%s"
	messageClaimedFormat       = "Printer %d started by %s%s"
	messageFinishedFormat      = "Printer %d has finished printing."
	messageFinishedClaimFormat = "Printer %d has finished printing. (%s)"
	messageLayer2Format        = "Printer %d: Layer 2 complete! Your print is progressing well."
	messagePercentReached      = "Printer %d: %d%% reached!"
	messageLayerReached        = "Printer %d: Layer %d reached!"
	messageAlreadyClaimed      = "Already claimed by %s"
	messageClaimDMFormat       = "You claimed Printer %d!%s\n\nWhere would you like to receive the finished print image?"
	messageStartDMPrompt       = "%s\n\n%s, please start a conversation with the bot to configure your print settings:"
	messageEnableDMPrompt      = "%s\n\n%s, please allow direct messages from the bot to configure your print settings."
	messageUnclaimedFormat     = "You have unclaimed Printer %d."
	messageUnclaimPartial      = "Unclaimed Printer %d, but could not update the main chat message."
	messageNotConnectedFormat  = "Printer %d is not connected."
	messageNoFrameFormat       = "Printer %d is not connected or has no camera frame."
	messageCameraCaption       = "Camera image from Printer %d"
	messageLivestreamCaption   = "Printer %d Livestream\nUpdated: %s"
	messageLivestreamStopped   = "Printer %d Livestream\nStopped at %s"
	messageOnlyAccessFormat    = "You only have access to Printer(s) %s."
	messageOwnerUsageFormat    = "Usage: /%s <printer>\nAvailable printers: 1-%d"
	messageMultipleUsageFormat = "You have multiple prints claimed (%s). Usage: /%s <printer>"

	messageGcodeChanged   = "Printer %d GCODE state changed from %s to %s"
	messagePrintChanged   = "Printer %d PRINT state changed from %s to %s"
	messageFailedFormat   = "Printer %d failed! (code: %d)"
	messagePausedFormat   = "Printer %d has paused printing. (code: %d)"
	messageReconnecting   = "Printer %d not connected, reconnecting"
	messageReconnectError = "Failed to reconnect Printer %d: %v"
	messageConnecting     = "Connecting to Printer %d (%s)"
	messageRestartStarted = "Printer %d reconnection initiated."
	messageRestartFailed  = "Failed to restart Printer %d: %v"
	messageBotStarted     = "Bot started!"

	messageNotifyUsage         = "Usage: /notify [printer] <layer> or /notify [printer] <percent>%\nExamples: /notify 50 or /notify 2 75%"
	messageNotifyShortUsage    = "Usage: /notify [printer] <layer> or /notify [printer] <percent>%"
	messageNotifyMultiple      = "You have multiple prints claimed (%s). Usage: /notify <printer> <layer|percent%%>"
	messagePercentRange        = "Percentage must be between 1 and 100."
	messagePercentInvalid      = "Please provide a valid percentage."
	messageNoTotalLayers       = "Cannot determine total layers for this print."
	messageLayerPositive       = "Layer must be a positive number."
	messageLayerInvalid        = "Please provide a valid layer number or percentage."
	messageNotifyPercentFormat = "You will be notified when %d%% is reached (layer %d/%d) on Printer %d."
	messageNotifyLayerFormat   = "You will be notified when layer %d is reached on Printer %d."
)

const helpText = "Available commands:\n" +
	"/help - Show this help message\n" +
	"/info [printer] - Show info about your print\n" +
	"/notify [printer] <layer> - Get notified at a specific layer\n" +
	"/notify [printer] <percent>% - Get notified at a percentage\n" +
	"/camera [printer] - View camera image from your printer\n" +
	"/livestream [printer] - Start a live updating camera feed\n" +
	"/unclaim [printer] - Unclaim your print\n\n" +
	"Note: [printer] is required when you have multiple prints claimed."

// CommandDefinitions lists the user commands registered with the platform.
func CommandDefinitions() []messaging.CommandDefinition {
	return []messaging.CommandDefinition{
		{Name: "help", Description: "Show available commands"},
		{Name: "info", Description: "Show info about your print"},
		{Name: "notify", Description: "Get notified at a layer or percentage"},
		{Name: "camera", Description: "View camera image from your printer"},
		{Name: "livestream", Description: "Start a live updating camera feed"},
		{Name: "unclaim", Description: "Unclaim your print"},
	}
}

func printTimeSuffix(sess repository.PrintSession) string {
	if sess.PrintTime == nil || *sess.PrintTime == "" {
		return ""
	}
	return fmt.Sprintf(" (print time: %s)", *sess.PrintTime)
}

func claimedText(idx int, username string, sess repository.PrintSession) string {
	return fmt.Sprintf(messageClaimedFormat, idx+1, username, printTimeSuffix(sess))
}

func restoredText(idx int, sess repository.PrintSession) string {
	return fmt.Sprintf(messageRestoredFormat, idx+1, printTimeSuffix(sess))
}

func claimKeyboard(idx int) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.Row(messaging.CallbackButton(buttonClaim, ClaimData(idx))),
	)
}

func unclaimKeyboard(idx int) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.Row(messaging.CallbackButton(buttonUnclaim, UnclaimData(idx))),
	)
}

func restartKeyboard(idx int) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.Row(messaging.CallbackButton(buttonRestart, RestartPrinterData(idx))),
	)
}

// preferenceKeyboard is shown in the claimer's DM right after a claim.
func preferenceKeyboard(idx int) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.Row(
			messaging.CallbackButton(buttonMainChat, DMPreferenceData(idx, repository.DMPreferenceChat)),
			messaging.CallbackButton(buttonDMOnly, DMPreferenceData(idx, repository.DMPreferenceDM)),
		),
		messaging.Row(
			messaging.CallbackButton(buttonUnclaim, UnclaimData(idx)),
			messaging.CallbackButton(buttonHelp, dataHelp),
		),
	)
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func settingsMessage(idx int, pref repository.DMPreference, layer2 bool) (string, *messaging.Keyboard) {
	destination := "main chat"
	if pref == repository.DMPreferenceDM {
		destination = "here privately"
	}
	num := idx + 1
	text := fmt.Sprintf("Settings for Printer %d:\n"+
		"- Finished image: %s\n"+
		"- Layer 2 notification: %s\n\n"+
		"You can use /camera %d to check on your print while it's active.",
		num, destination, onOff(layer2), num)

	kb := messaging.NewKeyboard(
		messaging.Row(messaging.CallbackButton(fmt.Sprintf(buttonLayer2Format, onOff(layer2)), Layer2ToggleData(idx))),
		messaging.Row(
			messaging.CallbackButton(buttonUnclaim, UnclaimData(idx)),
			messaging.CallbackButton(buttonHelp, dataHelp),
		),
	)
	return text, kb
}

// progressBlock summarises a running job for the claim DM.
func progressBlock(st printer.Status) string {
	return fmt.Sprintf("\n\nCurrent status:\n- Progress: %d%%\n- Time remaining: %s\n- Layer: %d/%d",
		st.Percentage, printer.FormatMinutes(st.RemainingMinutes), st.CurrentLayer, st.TotalLayers)
}

func infoText(idx int, st printer.Status, sess repository.PrintSession, hasSession bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Printer %d Info:\n", idx+1)
	fmt.Fprintf(&b, "- Status: %s\n", st.GcodeState)
	fmt.Fprintf(&b, "- Progress: %d%%\n", st.Percentage)
	fmt.Fprintf(&b, "- Time remaining: %s\n", printer.FormatMinutes(st.RemainingMinutes))
	fmt.Fprintf(&b, "- Layer: %d/%d\n", st.CurrentLayer, st.TotalLayers)
	if hasSession && sess.NotifyLayer != nil && !sess.NotifyLayerNotified {
		if sess.NotifyType != nil && *sess.NotifyType == repository.NotifyTypePercent && sess.NotifyOriginalValue != nil {
			fmt.Fprintf(&b, "- Notification: %d%% (layer %d)\n", *sess.NotifyOriginalValue, *sess.NotifyLayer)
		} else {
			fmt.Fprintf(&b, "- Notification: layer %d\n", *sess.NotifyLayer)
		}
	}
	return b.String()
}

func customNotifyText(idx int, sess repository.PrintSession) string {
	if sess.NotifyType != nil && *sess.NotifyType == repository.NotifyTypePercent && sess.NotifyOriginalValue != nil {
		return fmt.Sprintf(messagePercentReached, idx+1, *sess.NotifyOriginalValue)
	}
	return fmt.Sprintf(messageLayerReached, idx+1, *sess.NotifyLayer)
}
