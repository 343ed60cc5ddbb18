package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/messaging/messagingtest"
	"github.com/pcider/printbot/internal/monitor"
)

func TestLogIsBatchedPerWindow(t *testing.T) {
	hs := newHarness(t)

	hs.svc.Log(hs.ctx, "first", nil)
	hs.svc.Log(hs.ctx, "second", nil)
	hs.svc.Log(hs.ctx, "third", []byte("img"))

	logs := hs.gw.SentTo(logChat)
	require.Len(t, logs, 1)
	assert.Equal(t, "first", logs[0].Text)

	hs.clock.Advance(4 * time.Second)
	hs.svc.FlushLog(hs.ctx)
	assert.Len(t, hs.gw.SentTo(logChat), 1)

	hs.clock.Advance(time.Second)
	hs.svc.FlushLog(hs.ctx)
	logs = hs.gw.SentTo(logChat)
	require.Len(t, logs, 2)
	assert.Equal(t, "second\nthird", logs[1].Text)
	assert.Equal(t, []byte("img"), logs[1].Photo)

	hs.svc.FlushLog(hs.ctx)
	assert.Len(t, hs.gw.SentTo(logChat), 2, "empty buffer sends nothing")
}

func TestDrainLogIgnoresWindow(t *testing.T) {
	hs := newHarness(t)
	hs.svc.Log(hs.ctx, "a", nil)
	hs.svc.Log(hs.ctx, "b", nil)
	hs.svc.DrainLog(hs.ctx)

	logs := hs.gw.SentTo(logChat)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[1].Text)
}

func TestLogWithoutLogChatOnlyWritesSlog(t *testing.T) {
	gw := messagingtest.New()
	hs := newHarness(t)
	svc := NewMessageService(gw, hs.store, hs.poller, Targets{Main: mainChat}, hs.clock, 0, 0)

	svc.Log(hs.ctx, "quiet", nil)
	svc.Alert(hs.ctx, "also quiet", nil)
	svc.UpdateStatus(hs.ctx, "status")
	assert.Empty(t, gw.Sent())
}

func TestUpdateStatusEditsThenRecreates(t *testing.T) {
	hs := newHarness(t)

	hs.svc.UpdateStatus(hs.ctx, "one")
	posted := hs.gw.SentTo(statusChat)
	require.Len(t, posted, 1)
	assert.Equal(t, messaging.ParseModeMarkdownV2, posted[0].Options.ParseMode)
	id, ok := hs.store.StatusMessageID()
	require.True(t, ok)
	assert.Equal(t, posted[0].Message.ID, id)

	hs.svc.UpdateStatus(hs.ctx, "one")
	assert.Empty(t, hs.gw.Edits(), "unchanged text is not re-sent")

	hs.svc.UpdateStatus(hs.ctx, "two")
	edits := hs.gw.EditsOf(posted[0].Message)
	require.Len(t, edits, 1)
	assert.Equal(t, "two", edits[0].Text)

	hs.gw.SetEditErr(errors.New("timeout"))
	hs.svc.UpdateStatus(hs.ctx, "three")
	assert.Len(t, hs.gw.SentTo(statusChat), 1, "transient edit failures are retried next pass")

	hs.gw.SetEditErr(messaging.ErrMessageNotFound)
	hs.svc.UpdateStatus(hs.ctx, "three")
	posted = hs.gw.SentTo(statusChat)
	require.Len(t, posted, 2)
	assert.Equal(t, "three", posted[1].Text)
	id, _ = hs.store.StatusMessageID()
	assert.Equal(t, posted[1].Message.ID, id)
}

func TestLivestreamRefreshAndExpiry(t *testing.T) {
	hs := newHarness(t)
	hs.devices[0].SetFrame([]byte("f1"))

	require.NoError(t, hs.svc.StartLivestream(hs.ctx, 0, mainChat, []byte("f1")))
	posted := hs.gw.SentTo(mainChat)
	require.Len(t, posted, 1)
	assert.Equal(t, "Printer 1 Livestream\nUpdated: 12:00:00", posted[0].Text)
	assert.True(t, hs.svc.HasLivestream(0))

	hs.devices[0].SetFrame([]byte("f2"))
	hs.clock.Advance(5 * time.Second)
	hs.svc.RefreshLivestreams(hs.ctx)
	edits := hs.gw.EditsOf(posted[0].Message)
	require.Len(t, edits, 1)
	assert.Equal(t, messagingtest.EditMedia, edits[0].Kind)
	assert.Equal(t, []byte("f2"), edits[0].Photo)
	assert.Equal(t, "Printer 1 Livestream\nUpdated: 12:00:05", edits[0].Text)

	hs.clock.Advance(10 * time.Minute)
	hs.svc.RefreshLivestreams(hs.ctx)
	assert.False(t, hs.svc.HasLivestream(0))
	edits = hs.gw.EditsOf(posted[0].Message)
	require.Len(t, edits, 2)
	assert.Equal(t, messagingtest.EditCaption, edits[1].Kind)
	assert.True(t, strings.HasPrefix(edits[1].Text, "Printer 1 Livestream\nStopped at"))
}

func TestLivestreamDroppedWhenMessageIsGone(t *testing.T) {
	hs := newHarness(t)
	hs.devices[0].SetFrame([]byte("f1"))
	require.NoError(t, hs.svc.StartLivestream(hs.ctx, 0, mainChat, []byte("f1")))

	hs.gw.SetEditErr(messaging.ErrMessageNotFound)
	hs.svc.RefreshLivestreams(hs.ctx)
	assert.False(t, hs.svc.HasLivestream(0))
}

func TestStartingLivestreamReplacesExisting(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.svc.StartLivestream(hs.ctx, 0, mainChat, []byte("a")))
	first := hs.gw.SentTo(mainChat)[0].Message
	require.NoError(t, hs.svc.StartLivestream(hs.ctx, 0, mainChat, []byte("b")))

	edits := hs.gw.EditsOf(first)
	require.Len(t, edits, 1)
	assert.Equal(t, messagingtest.EditCaption, edits[0].Kind)
	assert.True(t, hs.svc.HasLivestream(0))
}

func TestReportReconnectsAlertsOnFailure(t *testing.T) {
	hs := newHarness(t, idleStatus(), idleStatus())

	hs.svc.ReportReconnects(hs.ctx, []monitor.ReconnectAttempt{
		{Index: 0},
		{Index: 1, Err: errors.New("connection refused")},
	})

	logs := hs.gw.SentTo(logChat)
	require.Len(t, logs, 2)
	assert.Equal(t, "Printer 1 not connected, reconnecting", logs[0].Text)
	assert.Equal(t, "Failed to reconnect Printer 2: connection refused", logs[1].Text)
	assert.Equal(t, restartKeyboard(1), logs[1].Options.Keyboard)
}

func TestReportStartupLogsEveryPrinter(t *testing.T) {
	hs := newHarness(t, idleStatus(), idleStatus())
	before := len(hs.gw.SentTo(logChat))

	hs.svc.ReportStartup(hs.ctx, []monitor.ReconnectAttempt{
		{Index: 0},
		{Index: 1, Err: errors.New("connection refused")},
	})

	var texts []string
	for _, s := range hs.gw.SentTo(logChat)[before:] {
		texts = append(texts, s.Text)
	}
	all := strings.Join(texts, "\n")
	assert.Contains(t, all, "Connecting to Printer 1 (1)")
	assert.Contains(t, all, "Connecting to Printer 2 (2)")
	assert.Contains(t, all, "Failed to reconnect Printer 2: connection refused")
	assert.True(t, strings.HasSuffix(texts[len(texts)-1], "Bot started!"), "startup ends with the started line")
}

func TestTruncateKeepsTail(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "…6789", truncate("0123456789", 5))
}
