package arbor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"gopkg.in/yaml.v3"
)

func signupForm() *Group {
	return NewGroup(map[string]Control{
		"name": NewField("default-name"),
		"city": NewField("default-city"),
	})
}

// slowStore gates every read on a release channel.
type slowStore struct {
	*MemoryStore
	release chan struct{}
}

func (s *slowStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.GetValue(ctx, key)
}

// failStore fails writes while the flag is set.
type failStore struct {
	*MemoryStore
	failing atomic.Bool
}

func (s *failStore) SetValue(ctx context.Context, key string, value []byte) error {
	if s.failing.Load() {
		return errors.New("backend unavailable")
	}
	return s.MemoryStore.SetValue(ctx, key, value)
}

func storedJSON(t *testing.T, store *MemoryStore, key string) map[string]any {
	t.Helper()
	data, ok := store.Snapshot(key)
	if !ok {
		t.Fatal("nothing stored")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("stored payload does not decode: %v", err)
	}
	return out
}

func TestPersist_RestoresStoredState(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("form", []byte(`{"name":"stored-name","city":"stored-city"}`))
	form := signupForm()

	p := Persist(form, store, "form")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := form.Get("name").Value(); got != "stored-name" {
		t.Errorf("expected stored-name, got %v", got)
	}
	if got := form.Get("city").Value(); got != "stored-city" {
		t.Errorf("expected stored-city, got %v", got)
	}
	if p.State() != StateStreaming {
		t.Errorf("expected streaming, got %s", p.State())
	}
	if store.WriteCount() != 0 {
		t.Errorf("restore alone must not write, got %d writes", store.WriteCount())
	}
}

func TestPersist_RestoreDoesNotEmit(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("form", []byte(`{"name":"stored-name","city":"stored-city"}`))
	form := signupForm()

	ch := form.ValueChanges(context.Background())
	recv(t, ch) // replay of the constructed value

	p := Persist(form, store, "form")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expectNone(t, ch)
}

func TestPersist_RestoreSkippedWhenEmpty(t *testing.T) {
	store := NewMemoryStore()
	form := signupForm()

	p := Persist(form, store, "form")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := form.Get("name").Value(); got != "default-name" {
		t.Errorf("expected constructed default, got %v", got)
	}
	if p.State() != StateStreaming {
		t.Errorf("expected streaming, got %s", p.State())
	}
}

func TestPersist_RestoreDecodeFailure(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("form", []byte(`{not json`))
	form := signupForm()

	p := Persist(form, store, "form")
	err := p.Start(context.Background())
	if err == nil {
		t.Fatal("expected decode error from Start")
	}
	if p.State() != StateDegraded {
		t.Errorf("expected degraded, got %s", p.State())
	}
	if got := form.Get("name").Value(); got != "default-name" {
		t.Errorf("expected tree untouched after failed restore, got %v", got)
	}
}

func TestPersist_DebounceCoalescesEdits(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := NewMemoryStore()
	form := signupForm()

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	form.Get("name").SetValue("a")
	form.Get("name").SetValue("b")
	form.Get("name").SetValue("c")

	// Allow the watch goroutine to receive changes
	time.Sleep(10 * time.Millisecond)

	// No write yet - debounce timer hasn't fired
	if store.WriteCount() != 0 {
		t.Errorf("expected 0 writes while debouncing, got %d", store.WriteCount())
	}

	// Advance clock past debounce duration
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if store.WriteCount() != 1 {
		t.Errorf("expected 1 coalesced write, got %d", store.WriteCount())
	}
	if got := storedJSON(t, store, "form")["name"]; got != "c" {
		t.Errorf("expected latest value c, got %v", got)
	}

	// A second quiet period writes again
	form.Get("name").SetValue("d")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if store.WriteCount() != 2 {
		t.Errorf("expected 2 writes, got %d", store.WriteCount())
	}
	if got := storedJSON(t, store, "form")["name"]; got != "d" {
		t.Errorf("expected d, got %v", got)
	}
}

func TestPersist_ExcludesDisabledByDefault(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := NewMemoryStore()
	form := signupForm()
	form.Get("city").Disable()

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	form.Get("name").SetValue("a")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	payload := storedJSON(t, store, "form")
	if _, ok := payload["city"]; ok {
		t.Errorf("disabled control leaked into payload: %v", payload)
	}
}

func TestPersist_IncludeDisabled(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := NewMemoryStore()
	form := signupForm()
	form.Get("city").Disable()

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock).
		IncludeDisabled()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	form.Get("name").SetValue("a")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	payload := storedJSON(t, store, "form")
	if payload["city"] != "default-city" {
		t.Errorf("expected disabled value in payload, got %v", payload)
	}
}

func TestPersist_NoWriteBeforeRestoreSettles(t *testing.T) {
	clock := clockz.NewFakeClock()
	inner := NewMemoryStore()
	inner.Seed("form", []byte(`{"name":"stored-name","city":"stored-city"}`))
	store := &slowStore{MemoryStore: inner, release: make(chan struct{})}
	form := signupForm()

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- p.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if p.State() != StateRestoring {
		t.Errorf("expected restoring while read is in flight, got %s", p.State())
	}

	// Edits while restore is blocked must not reach the store.
	form.Get("name").SetValue("racing-edit")
	if inner.WriteCount() != 0 {
		t.Errorf("expected 0 writes before restore settled, got %d", inner.WriteCount())
	}

	close(store.release)
	if err := <-started; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if p.State() != StateStreaming {
		t.Errorf("expected streaming, got %s", p.State())
	}
	if got := form.Get("name").Value(); got != "stored-name" {
		t.Errorf("expected restore to win over the racing edit, got %v", got)
	}

	// The replay emission is discarded; with no post-restore edit the
	// debounce window never opens.
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)
	if inner.WriteCount() != 0 {
		t.Errorf("expected 0 writes, got %d", inner.WriteCount())
	}
}

func TestPersist_ArrayFactoryGrowsOnRestore(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("form", []byte(`{"phones":["111","222","333"]}`))
	form := NewGroup(map[string]Control{
		"phones": NewArray([]Control{NewField("")}),
	})

	p := Persist(form, store, "form").
		ArrayFactory("phones", func(item any) Control { return NewField("") })
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	phones := form.Get("phones").(*Array)
	if phones.Len() != 3 {
		t.Fatalf("expected 3 items after restore, got %d", phones.Len())
	}
	if got := phones.At(2).Value(); got != "333" {
		t.Errorf("expected 333, got %v", got)
	}
}

func TestPersist_ArrayShrinksOnRestore(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("form", []byte(`{"phones":["111"]}`))
	form := NewGroup(map[string]Control{
		"phones": NewArray([]Control{NewField(""), NewField(""), NewField("")}),
	})

	p := Persist(form, store, "form")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	phones := form.Get("phones").(*Array)
	if phones.Len() != 1 {
		t.Fatalf("expected 1 item after restore, got %d", phones.Len())
	}
	if got := phones.At(0).Value(); got != "111" {
		t.Errorf("expected 111, got %v", got)
	}
}

func TestPersist_MissingArrayFactoryFailsRestore(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := NewMemoryStore()
	store.Seed("form", []byte(`{"phones":["111","222"]}`))
	form := NewGroup(map[string]Control{
		"phones": NewArray([]Control{NewField("default")}),
	})

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := p.Start(ctx)
	if err == nil {
		t.Fatal("expected restore error for unregistered factory")
	}
	if p.State() != StateDegraded {
		t.Errorf("expected degraded, got %s", p.State())
	}
	if p.LastError() == nil {
		t.Error("expected LastError to carry the restore failure")
	}
	select {
	case <-p.Errors():
	default:
		t.Error("expected the restore failure on the errors channel")
	}

	// Write-back still runs after a failed restore.
	form.Get("phones").(*Array).At(0).SetValue("edited")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if store.WriteCount() != 1 {
		t.Errorf("expected 1 write after failed restore, got %d", store.WriteCount())
	}
	if p.State() != StateStreaming {
		t.Errorf("expected recovery to streaming, got %s", p.State())
	}
}

func TestPersist_WriteFailureDegradesThenRecovers(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := &failStore{MemoryStore: NewMemoryStore()}
	store.failing.Store(true)
	form := signupForm()

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock).
		ErrorHistorySize(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	form.Get("name").SetValue("a")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if p.State() != StateDegraded {
		t.Errorf("expected degraded after failed write, got %s", p.State())
	}
	if p.LastError() == nil {
		t.Error("expected LastError after failed write")
	}
	if got := len(p.ErrorHistory()); got != 1 {
		t.Errorf("expected 1 error retained, got %d", got)
	}
	select {
	case err := <-p.Errors():
		if err == nil {
			t.Error("expected a non-nil error")
		}
	default:
		t.Error("expected the write failure on the errors channel")
	}

	// The failed write is not retried; the next edit writes fresh.
	store.failing.Store(false)
	form.Get("name").SetValue("b")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if p.State() != StateStreaming {
		t.Errorf("expected streaming after recovery, got %s", p.State())
	}
	if p.LastError() != nil {
		t.Errorf("expected LastError cleared, got %v", p.LastError())
	}
	if store.WriteCount() != 1 {
		t.Errorf("expected 1 successful write, got %d", store.WriteCount())
	}
}

func TestPersist_CancelAbandonsPendingDebounce(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := NewMemoryStore()
	form := signupForm()

	var stopped atomic.Bool
	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock).
		OnStop(func(s State) { stopped.Store(s == StateStopped) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	form.Get("name").SetValue("doomed-edit")
	time.Sleep(10 * time.Millisecond)

	cancel()
	waitFor(t, func() bool { return p.State() == StateStopped })

	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	if store.WriteCount() != 0 {
		t.Errorf("expected pending debounce abandoned, got %d writes", store.WriteCount())
	}
	if !stopped.Load() {
		t.Error("expected OnStop callback with stopped state")
	}
}

func TestPersist_StartTwiceFails(t *testing.T) {
	store := NewMemoryStore()
	p := Persist(signupForm(), store, "form")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("expected second Start to fail")
	}
}

func TestPersist_YAMLCodecRoundtrip(t *testing.T) {
	clock := clockz.NewFakeClock()
	store := NewMemoryStore()
	store.Seed("form", []byte("name: stored-name\ncity: stored-city\n"))
	form := signupForm()

	p := Persist(form, store, "form").
		Debounce(100 * time.Millisecond).
		Clock(clock).
		Codec(YAMLCodec{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := form.Get("name").Value(); got != "stored-name" {
		t.Errorf("expected stored-name, got %v", got)
	}

	form.Get("city").SetValue("moved")
	time.Sleep(10 * time.Millisecond)
	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)

	data, ok := store.Snapshot("form")
	if !ok {
		t.Fatal("nothing stored")
	}
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		t.Fatalf("stored payload does not decode: %v", err)
	}
	if payload["city"] != "moved" {
		t.Errorf("expected moved, got %v", payload)
	}
}
