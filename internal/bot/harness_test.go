package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/messaging/messagingtest"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/printer"
	"github.com/pcider/printbot/internal/printer/printertest"
	"github.com/pcider/printbot/internal/repository"
	"github.com/pcider/printbot/internal/session"
	"github.com/pcider/printbot/internal/webhook"
)

var (
	mainChat   = messaging.ChatTarget(-1001, 7)
	statusChat = messaging.ChatTarget(-1002, 0)
	logChat    = messaging.ChatTarget(-1003, 0)

	alice = messaging.User{ID: 11, Username: "alice"}
	bob   = messaging.User{ID: 22, Username: "bob"}
	owner = messaging.User{ID: 99, Username: "owner"}
)

type nopPersister struct{}

func (nopPersister) Load(context.Context) (*repository.State, error) {
	return repository.NewState(), nil
}

func (nopPersister) Save(context.Context, *repository.State) error { return nil }

type recordingHook struct {
	mu     sync.Mutex
	events []webhook.PrintEvent
}

func (r *recordingHook) SendPrintEvent(_ context.Context, ev webhook.PrintEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingHook) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Event
	}
	return out
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *clockwork.FakeClock
	gw      *messagingtest.Gateway
	devices []*printertest.FakeDevice
	poller  *monitor.Poller
	store   *session.Store
	svc     *MessageService
	disp    *Dispatcher
	h       *Handlers
	hook    *recordingHook
}

func idleStatus() printer.Status {
	return printer.Status{GcodeState: printer.GcodeIdle, PrintStatus: printer.StatusIdle}
}

func runningStatus(layer int) printer.Status {
	return printer.Status{
		GcodeState:       printer.GcodeRunning,
		PrintStatus:      printer.StatusPrinting,
		Percentage:       layer * 100 / 200,
		CurrentLayer:     layer,
		TotalLayers:      200,
		RemainingMinutes: 90,
	}
}

func newHarness(t *testing.T, statuses ...printer.Status) *harness {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []printer.Status{idleStatus()}
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	devices := make([]*printertest.FakeDevice, len(statuses))
	pdevs := make([]printer.Device, len(statuses))
	for i, st := range statuses {
		devices[i] = printertest.NewReady(st)
		pdevs[i] = devices[i]
	}
	poller := monitor.NewPoller(pdevs, nil, clock, time.Minute)

	store := session.NewStore(nopPersister{})
	store.Load(context.Background())

	gw := messagingtest.New()
	targets := Targets{Main: mainChat, Status: statusChat, Log: logChat}
	svc := NewMessageService(gw, store, poller, targets, clock, 5*time.Second, 10*time.Minute)
	hook := &recordingHook{}
	disp := NewDispatcher(poller, store, svc, gw, hook, clock, mainChat, DispatchSettings{
		FinishFrameAttempts: 3,
	})
	h := NewHandlers(poller, store, svc, gw, owner.ID)
	h.Register()

	hs := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   clock,
		gw:      gw,
		devices: devices,
		poller:  poller,
		store:   store,
		svc:     svc,
		disp:    disp,
		h:       h,
		hook:    hook,
	}
	hs.pass()
	return hs
}

// pass polls once and dispatches every event.
func (hs *harness) pass() []monitor.Event {
	hs.t.Helper()
	events := hs.poller.Poll(hs.ctx)
	for _, ev := range events {
		require.NoError(hs.t, hs.disp.Dispatch(hs.ctx, ev))
	}
	return events
}

// startPrint moves printer idx into a running job and returns its
// announcement.
func (hs *harness) startPrint(idx int) messaging.Message {
	hs.t.Helper()
	hs.devices[idx].SetStatus(runningStatus(1))
	hs.pass()
	sess, ok := hs.store.Print(idx)
	require.True(hs.t, ok)
	msg, err := announcementOf(sess)
	require.NoError(hs.t, err)
	return msg
}

func (hs *harness) claim(user messaging.User, idx int, announcement messaging.Message) []messagingtest.Answer {
	hs.t.Helper()
	return hs.gw.Press(hs.ctx, user, announcement, ClaimData(idx))
}

func (hs *harness) command(user messaging.User, chat messaging.Target, line string) string {
	hs.t.Helper()
	before := len(hs.gw.SentTo(chat))
	hs.gw.Command(hs.ctx, chat, user, line)
	sent := hs.gw.SentTo(chat)
	require.Greater(hs.t, len(sent), before, "no reply to %q", line)
	return sent[len(sent)-1].Text
}

func (hs *harness) setLayer(idx, layer int) {
	hs.t.Helper()
	hs.devices[idx].Update(func(st *printer.Status) {
		st.CurrentLayer = layer
	})
	hs.pass()
}
