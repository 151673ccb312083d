package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relaybox/internal/mailbox"
)

// mockPersister records snapshots and can be made to fail.
type mockPersister struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
	calls chan struct{}
}

func newMockPersister() *mockPersister {
	return &mockPersister{calls: make(chan struct{}, 100)}
}

func (m *mockPersister) Persist(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case m.calls <- struct{}{}:
	default:
	}
	if m.err != nil {
		return m.err
	}
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *mockPersister) last() (Snapshot, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return Snapshot{}, 0
	}
	return m.snaps[len(m.snaps)-1], len(m.snaps)
}

func newTestCommand(t *testing.T) mailbox.Command {
	t.Helper()
	cmd, err := mailbox.NewCommand(mailbox.KindContactSync, mailbox.Payload{})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	return cmd
}

func mustRegister(t *testing.T, r *Registry, id string) {
	t.Helper()
	if _, _, err := r.Register(context.Background(), id, ""); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
}

// ─── Registration Tests ──────────────────────────────────────────────

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()

	dev, created, err := r.Register(ctx, "phone-1", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !created {
		t.Error("first registration should report created")
	}
	if dev.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", dev.Model, DefaultModel)
	}
	if dev.RegisteredAt.IsZero() || dev.LastSeenAt.IsZero() {
		t.Error("timestamps should be set")
	}
	if !r.Exists("phone-1") {
		t.Error("Exists should be true after Register")
	}
}

func TestRegistry_Register_Idempotent(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()

	first, _, _ := r.Register(ctx, "phone-1", "Pixel 8")
	if _, err := r.Enqueue(ctx, "phone-1", newTestCommand(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	second, created, err := r.Register(ctx, "phone-1", "")
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if created {
		t.Error("re-registration should not report created")
	}
	if second.Model != "Pixel 8" {
		t.Errorf("Model = %q, empty model must not overwrite", second.Model)
	}
	if !second.RegisteredAt.Equal(first.RegisteredAt) {
		t.Error("RegisteredAt changed on re-registration")
	}
	if !second.LastSeenAt.After(first.LastSeenAt) {
		t.Error("LastSeenAt should advance on re-registration")
	}
	if got := r.PendingCount("phone-1"); got != 1 {
		t.Errorf("PendingCount = %d, re-registration must keep mailbox", got)
	}

	third, _, _ := r.Register(ctx, "phone-1", "Pixel 9")
	if third.Model != "Pixel 9" {
		t.Errorf("Model = %q, want Pixel 9", third.Model)
	}
	if len(r.ListAll()) != 1 {
		t.Errorf("ListAll len = %d, want 1", len(r.ListAll()))
	}
}

func TestRegistry_Register_InvalidID(t *testing.T) {
	r := NewRegistry(0)

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"too long", strings.Repeat("x", 129)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Register(context.Background(), tt.id, "")
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if len(r.ListAll()) != 0 {
		t.Error("invalid registrations must not create devices")
	}
}

func TestRegistry_ListAll_RegistrationOrder(t *testing.T) {
	r := NewRegistry(0)
	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		mustRegister(t, r, id)
	}
	mustRegister(t, r, "a")

	got := r.ListAll()
	if len(got) != 3 {
		t.Fatalf("ListAll len = %d, want 3", len(got))
	}
	for i, d := range got {
		if d.ID != ids[i] {
			t.Errorf("ListAll[%d] = %s, want %s", i, d.ID, ids[i])
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(0)
	mustRegister(t, r, "phone-1")

	if _, err := r.Get("phone-1"); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := r.Get("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry(0)
	mustRegister(t, r, "phone-1")
	before, _ := r.Get("phone-1")

	time.Sleep(2 * time.Millisecond)
	r.Touch("phone-1")
	r.Touch("ghost")

	after, _ := r.Get("phone-1")
	if !after.LastSeenAt.After(before.LastSeenAt) {
		t.Error("Touch should advance LastSeenAt")
	}
	if r.Exists("ghost") {
		t.Error("Touch must not register unknown devices")
	}
}

// ─── Mailbox Operation Tests ─────────────────────────────────────────

func TestRegistry_UnregisteredDevice(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()

	if _, err := r.Enqueue(ctx, "ghost", newTestCommand(t)); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Enqueue error = %v, want ErrDeviceNotFound", err)
	}
	if err := r.SetLatest(ctx, "ghost", mailbox.SlotSMS, json.RawMessage(`{}`)); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetLatest error = %v, want ErrDeviceNotFound", err)
	}
	if err := r.SetFlag(ctx, "ghost", mailbox.FlagOpen, true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetFlag error = %v, want ErrDeviceNotFound", err)
	}

	if got := r.DrainPending(ctx, "ghost"); got == nil || len(got) != 0 {
		t.Errorf("DrainPending = %v, want empty", got)
	}
	if _, _, ok := r.TakeLatestCommand(ctx, "ghost"); ok {
		t.Error("TakeLatestCommand should report !ok")
	}
	if got := string(r.GetLatest("ghost", mailbox.SlotContacts)); got != "[]" {
		t.Errorf("GetLatest = %s, want []", got)
	}
	if r.Flag("ghost", mailbox.FlagOpen) {
		t.Error("Flag should be false for unknown device")
	}
	if r.Exists("ghost") {
		t.Error("reads must not create devices")
	}
}

func TestRegistry_EnqueueDrain(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()
	mustRegister(t, r, "a")
	mustRegister(t, r, "b")

	c1, c2 := newTestCommand(t), newTestCommand(t)
	_, _ = r.Enqueue(ctx, "a", c1)
	_, _ = r.Enqueue(ctx, "a", c2)
	_, _ = r.Enqueue(ctx, "b", newTestCommand(t))

	got := r.DrainPending(ctx, "a")
	if len(got) != 2 || got[0].ID != c1.ID || got[1].ID != c2.ID {
		t.Fatalf("DrainPending(a) wrong order or length: %d", len(got))
	}
	if r.PendingCount("a") != 0 {
		t.Error("queue a should be empty after drain")
	}
	if r.PendingCount("b") != 1 {
		t.Error("draining a must not touch b")
	}
	if st := r.Stats(); st.Devices != 2 || st.Pending != 1 {
		t.Errorf("Stats = %+v, want {2 1}", st)
	}
}

func TestRegistry_Enqueue_Cap(t *testing.T) {
	r := NewRegistry(1)
	ctx := context.Background()
	mustRegister(t, r, "a")

	_, _ = r.Enqueue(ctx, "a", newTestCommand(t))
	evicted, err := r.Enqueue(ctx, "a", newTestCommand(t))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
}

func TestRegistry_SetLatest(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()
	mustRegister(t, r, "a")

	if err := r.SetLatest(ctx, "a", mailbox.SlotDeviceDetails, json.RawMessage(`{"battery":80}`)); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}
	if got := string(r.GetLatest("a", mailbox.SlotDeviceDetails)); got != `{"battery":80}` {
		t.Errorf("GetLatest = %s", got)
	}

	err := r.SetLatest(ctx, "a", mailbox.SlotSMS, json.RawMessage(`nope`))
	if !errors.Is(err, ErrInvalidArgument) || !errors.Is(err, mailbox.ErrInvalidValue) {
		t.Errorf("bad value error = %v, want ErrInvalidArgument wrapping ErrInvalidValue", err)
	}
}

func TestRegistry_ConcurrentDevices(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()

	const devices = 20
	const perDevice = 50

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "dev-" + string(rune('a'+n))
			if _, _, err := r.Register(ctx, id, ""); err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			for i := 0; i < perDevice; i++ {
				cmd, _ := mailbox.NewCommand(mailbox.KindDeviceDetails, mailbox.Payload{})
				if _, err := r.Enqueue(ctx, id, cmd); err != nil {
					t.Errorf("Enqueue: %v", err)
				}
			}
		}(d)
	}
	wg.Wait()

	if st := r.Stats(); st.Devices != devices || st.Pending != devices*perDevice {
		t.Errorf("Stats = %+v, want {%d %d}", st, devices, devices*perDevice)
	}
}

func TestRegistry_TouchDuringFirstRegister(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("fresh-%03d", i)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, id := range ids {
					r.Touch(id)
				}
			}
		}()
	}

	for _, id := range ids {
		dev, created, err := r.Register(ctx, id, "")
		if err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
		if !created {
			t.Errorf("Register(%s) created = false, want true", id)
		}
		if dev.ID != id || dev.Model != DefaultModel {
			t.Errorf("Register(%s) = %+v", id, dev)
		}
	}
	close(stop)
	wg.Wait()

	if got := len(r.ListAll()); got != len(ids) {
		t.Errorf("ListAll() len = %d, want %d", got, len(ids))
	}
}

// ─── Persistence Tests ───────────────────────────────────────────────

func TestRegistry_SnapshotRestore(t *testing.T) {
	r := NewRegistry(0)
	ctx := context.Background()
	mustRegister(t, r, "b")
	mustRegister(t, r, "a")
	cmd := newTestCommand(t)
	_, _ = r.Enqueue(ctx, "a", cmd)
	_ = r.SetFlag(ctx, "b", mailbox.FlagMedia, true)

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	snap.Devices = append(snap.Devices, DeviceState{Device: Device{ID: " "}})

	restored := NewRegistry(0)
	if n := restored.Restore(snap); n != 2 {
		t.Errorf("Restore = %d, want 2", n)
	}

	list := restored.ListAll()
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("restored order wrong: %+v", list)
	}
	got := restored.DrainPending(ctx, "a")
	if len(got) != 1 || got[0].ID != cmd.ID {
		t.Errorf("restored queue = %+v", got)
	}
	if !restored.Flag("b", mailbox.FlagMedia) {
		t.Error("restored flag should be true")
	}
}

func TestRegistry_PersistSync(t *testing.T) {
	r := NewRegistry(0)
	p := newMockPersister()
	r.SetPersister(p, PersistSync)
	ctx := context.Background()

	mustRegister(t, r, "a")
	_, _ = r.Enqueue(ctx, "a", newTestCommand(t))

	snap, n := p.last()
	if n != 2 {
		t.Errorf("persist calls = %d, want 2", n)
	}
	if len(snap.Devices) != 1 || len(snap.Devices[0].Mailbox.Pending) != 1 {
		t.Errorf("last snapshot = %+v, want one device with one command", snap)
	}

	// An empty drain is not a mutation.
	r.DrainPending(ctx, "a")
	r.DrainPending(ctx, "a")
	if _, n := p.last(); n != 3 {
		t.Errorf("persist calls = %d, want 3", n)
	}
}

func TestRegistry_PersistSync_Failure(t *testing.T) {
	r := NewRegistry(0)
	p := newMockPersister()
	r.SetPersister(p, PersistSync)
	ctx := context.Background()
	mustRegister(t, r, "a")

	p.mu.Lock()
	p.err = errors.New("disk full")
	p.mu.Unlock()

	_, err := r.Enqueue(ctx, "a", newTestCommand(t))
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("error = %v, want ErrPersist", err)
	}
	if r.PendingCount("a") != 1 {
		t.Error("in-memory mutation must stand after persist failure")
	}
}

func TestRegistry_PersistAsync(t *testing.T) {
	r := NewRegistry(0)
	p := newMockPersister()
	r.SetPersister(p, PersistAsync)
	ctx := context.Background()

	mustRegister(t, r, "a")
	for i := 0; i < 20; i++ {
		if _, err := r.Enqueue(ctx, "a", newTestCommand(t)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	select {
	case <-p.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("async flush never ran")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	snap, n := p.last()
	if n == 0 || n > 22 {
		t.Errorf("persist calls = %d, want between 1 and 22", n)
	}
	if len(snap.Devices[0].Mailbox.Pending) != 20 {
		t.Errorf("final snapshot has %d pending, want 20", len(snap.Devices[0].Mailbox.Pending))
	}

	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestParsePersistMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PersistMode
		wantErr bool
	}{
		{"sync", PersistSync, false},
		{"async", PersistAsync, false},
		{"", PersistAsync, false},
		{"eventual", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePersistMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePersistMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePersistMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
