package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/pcider/printbot/internal/metrics"
	"github.com/pcider/printbot/internal/repository"
)

var (
	ErrNoSession      = errors.New("no active print session for printer")
	ErrAlreadyClaimed = errors.New("print is already claimed")
	ErrNotClaimer     = errors.New("print is not claimed by this user")
	ErrInvalidValue   = errors.New("invalid session value")
)

// Store owns every print session and user preference. All mutations are
// serialised by one mutex and the whole document is persisted before the
// lock is released. A failed write is logged and counted; the in-memory
// change stays applied and the next successful write carries it.
type Store struct {
	persister repository.Persister

	mu    sync.Mutex
	state *repository.State
}

func NewStore(persister repository.Persister) *Store {
	return &Store{
		persister: persister,
		state:     repository.NewState(),
	}
}

// Load replaces the in-memory state with the stored document. A missing,
// unreadable or corrupt document leaves the store empty.
func (s *Store) Load(ctx context.Context) {
	state, err := s.persister.Load(ctx)
	if err != nil {
		slog.Error("failed to load session state; starting empty", "error", err)
		state = repository.NewState()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.updateGaugesLocked()
	slog.Info("session state loaded", "active_prints", len(state.ActivePrints), "users", len(state.UserPreferences))
}

// StartPrint creates the session for a newly announced print, replacing any
// stale session left for the same printer.
func (s *Store) StartPrint(ctx context.Context, printerIndex int, messageID int64, chatID, printTime string) repository.PrintSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := repository.NewPrintSession(printerIndex, messageID, chatID)
	if printTime != "" {
		sess.PrintTime = &printTime
	}
	s.state.ActivePrints[printerIndex] = sess
	s.saveLocked(ctx)
	return *sess.Clone()
}

// Claim assigns an unclaimed session to a user and seeds its preferences
// from the user's stored defaults.
func (s *Store) Claim(ctx context.Context, printerIndex int, userID int64, username string) (repository.PrintSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.state.ActivePrints[printerIndex]
	if !ok {
		return repository.PrintSession{}, ErrNoSession
	}
	if sess.Claimed() {
		return *sess.Clone(), ErrAlreadyClaimed
	}

	prefs := s.preferencesLocked(userID)
	sess.ClaimedBy = &userID
	sess.ClaimedUsername = &username
	sess.DMPreference = prefs.DefaultDMPreference
	sess.Layer2Notify = prefs.Layer2Notify
	sess.Layer2Notified = false
	clearNotifyTarget(sess)

	s.saveLocked(ctx)
	return *sess.Clone(), nil
}

// Unclaim releases the claim and resets preferences, flags and the custom
// target. The session itself and its announcement linkage are kept.
func (s *Store) Unclaim(ctx context.Context, printerIndex int, userID int64) (repository.PrintSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return repository.PrintSession{}, err
	}

	sess.ClaimedBy = nil
	sess.ClaimedUsername = nil
	sess.DMPreference = repository.DMPreferenceChat
	sess.Layer2Notify = true
	sess.Layer2Notified = false
	clearNotifyTarget(sess)

	s.saveLocked(ctx)
	return *sess.Clone(), nil
}

// SetDMPreference changes where the claimer's notifications go and stores
// the choice as their default.
func (s *Store) SetDMPreference(ctx context.Context, printerIndex int, userID int64, pref repository.DMPreference) (repository.PrintSession, error) {
	if !pref.Valid() {
		return repository.PrintSession{}, ErrInvalidValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return repository.PrintSession{}, err
	}
	sess.DMPreference = pref
	s.mutablePreferencesLocked(userID).DefaultDMPreference = pref

	s.saveLocked(ctx)
	return *sess.Clone(), nil
}

// SetLayer2Notify enables or disables the layer 2 alert and stores the
// choice as the claimer's default.
func (s *Store) SetLayer2Notify(ctx context.Context, printerIndex int, userID int64, enabled bool) (repository.PrintSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return repository.PrintSession{}, err
	}
	sess.Layer2Notify = enabled
	s.mutablePreferencesLocked(userID).Layer2Notify = enabled

	s.saveLocked(ctx)
	return *sess.Clone(), nil
}

// ToggleLayer2Notify flips the layer 2 alert in one step.
func (s *Store) ToggleLayer2Notify(ctx context.Context, printerIndex int, userID int64) (repository.PrintSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return repository.PrintSession{}, err
	}
	sess.Layer2Notify = !sess.Layer2Notify
	s.mutablePreferencesLocked(userID).Layer2Notify = sess.Layer2Notify

	s.saveLocked(ctx)
	return *sess.Clone(), nil
}

// SetNotifyTarget arms a one-time notification at targetLayer. The target is
// stored as given and never recomputed.
func (s *Store) SetNotifyTarget(ctx context.Context, printerIndex int, userID int64, targetLayer int, notifyType repository.NotifyType, originalValue int) (repository.PrintSession, error) {
	if targetLayer < 1 || (notifyType != repository.NotifyTypeLayer && notifyType != repository.NotifyTypePercent) {
		return repository.PrintSession{}, ErrInvalidValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return repository.PrintSession{}, err
	}
	sess.NotifyLayer = &targetLayer
	sess.NotifyType = &notifyType
	sess.NotifyOriginalValue = &originalValue
	sess.NotifyLayerNotified = false

	s.saveLocked(ctx)
	return *sess.Clone(), nil
}

// MarkLayer2Notified records a delivered layer 2 notification. It fails with
// ErrNotClaimer when the session is no longer claimed by userID.
func (s *Store) MarkLayer2Notified(ctx context.Context, printerIndex int, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return err
	}
	sess.Layer2Notified = true
	s.saveLocked(ctx)
	return nil
}

// MarkNotifyLayerNotified is MarkLayer2Notified for the custom target.
func (s *Store) MarkNotifyLayerNotified(ctx context.Context, printerIndex int, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.claimedByLocked(printerIndex, userID)
	if err != nil {
		return err
	}
	sess.NotifyLayerNotified = true
	s.saveLocked(ctx)
	return nil
}

// EndPrint removes the session and returns what it held.
func (s *Store) EndPrint(ctx context.Context, printerIndex int) (repository.PrintSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.state.ActivePrints[printerIndex]
	if !ok {
		return repository.PrintSession{}, false
	}
	delete(s.state.ActivePrints, printerIndex)
	s.saveLocked(ctx)
	return *sess, true
}

func (s *Store) Print(printerIndex int) (repository.PrintSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.state.ActivePrints[printerIndex]
	if !ok {
		return repository.PrintSession{}, false
	}
	return *sess.Clone(), true
}

// ClaimedBy lists the printer indexes claimed by a user in ascending order.
func (s *Store) ClaimedBy(userID int64) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int
	for idx, sess := range s.state.ActivePrints {
		if sess.IsClaimedBy(userID) {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Sessions returns every active session ordered by printer index.
func (s *Store) Sessions() []repository.PrintSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]repository.PrintSession, 0, len(s.state.ActivePrints))
	for _, sess := range s.state.ActivePrints {
		out = append(out, *sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrinterIndex < out[j].PrinterIndex })
	return out
}

func (s *Store) UserPreferences(userID int64) repository.UserPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferencesLocked(userID)
}

func (s *Store) StatusMessageID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.StatusMessageID == nil {
		return 0, false
	}
	return *s.state.StatusMessageID, true
}

func (s *Store) SetStatusMessageID(ctx context.Context, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StatusMessageID = &messageID
	s.saveLocked(ctx)
}

// Snapshot returns a deep copy of the whole document.
func (s *Store) Snapshot() *repository.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) claimedByLocked(printerIndex int, userID int64) (*repository.PrintSession, error) {
	sess, ok := s.state.ActivePrints[printerIndex]
	if !ok {
		return nil, ErrNoSession
	}
	if !sess.IsClaimedBy(userID) {
		return nil, ErrNotClaimer
	}
	return sess, nil
}

func (s *Store) preferencesLocked(userID int64) repository.UserPreferences {
	if prefs, ok := s.state.UserPreferences[userID]; ok {
		return *prefs
	}
	return repository.DefaultUserPreferences()
}

func (s *Store) mutablePreferencesLocked(userID int64) *repository.UserPreferences {
	prefs, ok := s.state.UserPreferences[userID]
	if !ok {
		p := repository.DefaultUserPreferences()
		prefs = &p
		s.state.UserPreferences[userID] = prefs
	}
	return prefs
}

func (s *Store) saveLocked(ctx context.Context) {
	s.updateGaugesLocked()
	if err := s.persister.Save(ctx, s.state); err != nil {
		metrics.StoreSaveErrorsTotal.Inc()
		slog.Error("failed to persist session state", "error", err)
	}
}

func (s *Store) updateGaugesLocked() {
	claimed := 0
	for _, sess := range s.state.ActivePrints {
		if sess.Claimed() {
			claimed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.state.ActivePrints)))
	metrics.ClaimedSessions.Set(float64(claimed))
}

func clearNotifyTarget(sess *repository.PrintSession) {
	sess.NotifyLayer = nil
	sess.NotifyType = nil
	sess.NotifyOriginalValue = nil
	sess.NotifyLayerNotified = false
}
