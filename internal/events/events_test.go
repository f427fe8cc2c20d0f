package events

import (
	"testing"
)

// samples holds one value of every variant.
func samples() []Event {
	return []Event{
		AgentStarted{}, AgentIdle{}, AgentStopped{},
		TaskFound{}, TaskStarted{}, TaskCompleted{}, TaskFailed{},
		TaskBlocked{}, TaskDeferred{}, TaskStatus{},
		GitPull{}, GitPush{}, GitPR{}, GitMerge{}, GitCleanup{},
		WorktreeCreated{}, UncommittedChanges{}, CommitRetry{},
		LockWaiting{}, LockAcquired{}, LockTimeout{}, LockReleased{},
		ConflictResolve{}, SessionCorrupted{},
		Log{}, Error{},
	}
}

// kindHandler records which method received each event.
type kindHandler struct{ got []Kind }

func (h *kindHandler) OnAgentStarted(AgentStarted)             { h.got = append(h.got, KindAgentStarted) }
func (h *kindHandler) OnAgentIdle(AgentIdle)                   { h.got = append(h.got, KindAgentIdle) }
func (h *kindHandler) OnAgentStopped(AgentStopped)             { h.got = append(h.got, KindAgentStopped) }
func (h *kindHandler) OnTaskFound(TaskFound)                   { h.got = append(h.got, KindTaskFound) }
func (h *kindHandler) OnTaskStarted(TaskStarted)               { h.got = append(h.got, KindTaskStarted) }
func (h *kindHandler) OnTaskCompleted(TaskCompleted)           { h.got = append(h.got, KindTaskCompleted) }
func (h *kindHandler) OnTaskFailed(TaskFailed)                 { h.got = append(h.got, KindTaskFailed) }
func (h *kindHandler) OnTaskBlocked(TaskBlocked)               { h.got = append(h.got, KindTaskBlocked) }
func (h *kindHandler) OnTaskDeferred(TaskDeferred)             { h.got = append(h.got, KindTaskDeferred) }
func (h *kindHandler) OnTaskStatus(TaskStatus)                 { h.got = append(h.got, KindTaskStatus) }
func (h *kindHandler) OnGitPull(GitPull)                       { h.got = append(h.got, KindGitPull) }
func (h *kindHandler) OnGitPush(GitPush)                       { h.got = append(h.got, KindGitPush) }
func (h *kindHandler) OnGitPR(GitPR)                           { h.got = append(h.got, KindGitPR) }
func (h *kindHandler) OnGitMerge(GitMerge)                     { h.got = append(h.got, KindGitMerge) }
func (h *kindHandler) OnGitCleanup(GitCleanup)                 { h.got = append(h.got, KindGitCleanup) }
func (h *kindHandler) OnWorktreeCreated(WorktreeCreated)       { h.got = append(h.got, KindWorktreeCreated) }
func (h *kindHandler) OnUncommittedChanges(UncommittedChanges) { h.got = append(h.got, KindUncommittedChanges) }
func (h *kindHandler) OnCommitRetry(CommitRetry)               { h.got = append(h.got, KindCommitRetry) }
func (h *kindHandler) OnLockWaiting(LockWaiting)               { h.got = append(h.got, KindLockWaiting) }
func (h *kindHandler) OnLockAcquired(LockAcquired)             { h.got = append(h.got, KindLockAcquired) }
func (h *kindHandler) OnLockTimeout(LockTimeout)               { h.got = append(h.got, KindLockTimeout) }
func (h *kindHandler) OnLockReleased(LockReleased)             { h.got = append(h.got, KindLockReleased) }
func (h *kindHandler) OnConflictResolve(ConflictResolve)       { h.got = append(h.got, KindConflictResolve) }
func (h *kindHandler) OnSessionCorrupted(SessionCorrupted)     { h.got = append(h.got, KindSessionCorrupted) }
func (h *kindHandler) OnLog(Log)                               { h.got = append(h.got, KindLog) }
func (h *kindHandler) OnError(Error)                           { h.got = append(h.got, KindError) }

func TestEveryKindHasSampleAndDispatches(t *testing.T) {
	byKind := make(map[Kind]Event)
	for _, e := range samples() {
		if _, dup := byKind[e.Kind()]; dup {
			t.Fatalf("two samples share kind %s", e.Kind())
		}
		byKind[e.Kind()] = e
	}

	for _, kind := range AllKinds() {
		e, ok := byKind[kind]
		if !ok {
			t.Errorf("kind %s has no sample variant", kind)
			continue
		}
		h := &kindHandler{}
		if !Dispatch(h, e) {
			t.Errorf("kind %s was not dispatched", kind)
			continue
		}
		if len(h.got) != 1 || h.got[0] != kind {
			t.Errorf("kind %s dispatched to %v", kind, h.got)
		}
	}

	if len(byKind) != len(AllKinds()) {
		t.Errorf("samples cover %d kinds, AllKinds lists %d", len(byKind), len(AllKinds()))
	}
}

func TestDispatchRejectsNil(t *testing.T) {
	if Dispatch(&kindHandler{}, nil) {
		t.Error("nil event should not dispatch")
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	rec := &Recorder{}
	bus.Subscribe(rec.Handler())

	bus.Emit(TaskFound{Header: At("a"), TaskID: "t1"})
	bus.Emit(TaskStarted{Header: At("a"), TaskID: "t1"})
	bus.Emit(TaskCompleted{Header: At("a"), TaskID: "t1"})

	got := rec.Kinds()
	want := []Kind{KindTaskFound, KindTaskStarted, KindTaskCompleted}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(Func(func(Event) { panic("boom") }))
	rec := &Recorder{}
	bus.Subscribe(rec.Handler())

	bus.Emit(Log{Message: "hello"})

	if rec.Count(KindLog) != 1 {
		t.Errorf("second handler should still receive the event, got %d", rec.Count(KindLog))
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	first := &Recorder{}
	second := &Recorder{}
	unsubscribe := bus.Subscribe(first.Handler())
	bus.Subscribe(second.Handler())

	unsubscribe()
	bus.Emit(AgentStarted{})

	if bus.Len() != 1 {
		t.Errorf("expected 1 handler, got %d", bus.Len())
	}
	if first.Count(KindAgentStarted) != 0 {
		t.Error("unsubscribed handler received an event")
	}
	if second.Count(KindAgentStarted) != 1 {
		t.Error("remaining handler missed the event")
	}
}
