package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

type mockListener struct {
	mu         sync.Mutex
	deliveries int
	commands   int
	superseded int
}

func (m *mockListener) CommandsDelivered(_ string, cmds []mailbox.Command, superseded int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries++
	m.commands += len(cmds)
	m.superseded += superseded
}

type mockRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *mockRecorder) RecordMailboxEvent(_, event string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[event] += count
}

func setup(t *testing.T, mode Mode) (*device.Registry, *Service) {
	t.Helper()
	reg := device.NewRegistry(0)
	if _, _, err := reg.Register(context.Background(), "phone-1", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg, New(reg, mode)
}

func enqueue(t *testing.T, reg *device.Registry, id string, kind mailbox.Kind) mailbox.Command {
	t.Helper()
	cmd, err := mailbox.NewCommand(kind, mailbox.Payload{})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if _, err := reg.Enqueue(context.Background(), id, cmd); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return cmd
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeDrainAll, false},
		{"drain_all", ModeDrainAll, false},
		{"latest_only", ModeLatestOnly, false},
		{"all", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, device.ErrInvalidArgument) {
				t.Errorf("ParseMode(%q) error = %v, want ErrInvalidArgument", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestPoll_DrainAll(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	ctx := context.Background()

	first := enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	second := enqueue(t, reg, "phone-1", mailbox.KindDeviceDetails)

	res := svc.Poll(ctx, "phone-1")
	if !res.HasCommands || len(res.Commands) != 2 {
		t.Fatalf("Poll = %+v, want two commands", res)
	}
	if res.Commands[0].ID != first.ID || res.Commands[1].ID != second.ID {
		t.Error("commands not delivered in insertion order")
	}

	again := svc.Poll(ctx, "phone-1")
	if again.HasCommands || again.Commands == nil || len(again.Commands) != 0 {
		t.Errorf("second Poll = %+v, want empty non-nil commands", again)
	}
}

func TestPoll_LatestOnly(t *testing.T) {
	reg, svc := setup(t, ModeLatestOnly)
	ctx := context.Background()

	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	newest := enqueue(t, reg, "phone-1", mailbox.KindDeviceDetails)

	res := svc.Poll(ctx, "phone-1")
	if len(res.Commands) != 1 || res.Commands[0].ID != newest.ID {
		t.Fatalf("Poll = %+v, want newest only", res)
	}
	if res.Superseded != 2 {
		t.Errorf("Superseded = %d, want 2", res.Superseded)
	}
	if reg.PendingCount("phone-1") != 0 {
		t.Error("latest_only poll should clear the queue")
	}
	if res := svc.Poll(ctx, "phone-1"); res.HasCommands {
		t.Errorf("second Poll = %+v, want empty", res)
	}
}

func TestPoll_ModeOverride(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	ctx := context.Background()

	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	enqueue(t, reg, "phone-1", mailbox.KindContactSync)

	res := svc.PollMode(ctx, "phone-1", ModeLatestOnly)
	if len(res.Commands) != 1 || res.Superseded != 1 {
		t.Errorf("PollMode(latest_only) = %+v", res)
	}

	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	if res := svc.PollMode(ctx, "phone-1", Mode("bogus")); len(res.Commands) != 1 {
		t.Errorf("unknown mode should fall back to default, got %+v", res)
	}
}

func TestPoll_UnknownConfiguredMode(t *testing.T) {
	reg, svc := setup(t, Mode("lifo"))
	ctx := context.Background()

	if got := svc.Mode(); got != ModeDrainAll {
		t.Errorf("Mode() = %q, want %q", got, ModeDrainAll)
	}

	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	enqueue(t, reg, "phone-1", mailbox.KindDeviceDetails)

	done := make(chan Result, 1)
	go func() { done <- svc.PollMode(ctx, "phone-1", Mode("bogus")) }()

	select {
	case res := <-done:
		if len(res.Commands) != 2 || res.Superseded != 0 {
			t.Errorf("PollMode = %+v, want both commands drained", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PollMode did not return with unknown modes")
	}
}

func TestPoll_UnregisteredDevice(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	ctx := context.Background()

	res := svc.Poll(ctx, "ghost")
	if res.HasCommands || res.Commands == nil || len(res.Commands) != 0 {
		t.Errorf("Poll(ghost) = %+v, want empty", res)
	}
	if svc.WaitFlag(ctx, "ghost", mailbox.FlagOpen) {
		t.Error("WaitFlag(ghost) should be false")
	}
	if reg.Exists("ghost") {
		t.Error("poll must not register devices")
	}
}

func TestPoll_IndependentDevices(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	ctx := context.Background()
	if _, _, err := reg.Register(ctx, "phone-2", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	enqueue(t, reg, "phone-2", mailbox.KindContactSync)

	svc.Poll(ctx, "phone-1")
	if reg.PendingCount("phone-2") != 1 {
		t.Error("polling one device must not drain another")
	}
}

func TestPoll_WaitFlag(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	ctx := context.Background()

	if svc.WaitFlag(ctx, "phone-1", mailbox.FlagOpen) {
		t.Error("unset flag should be false")
	}
	if err := reg.SetFlag(ctx, "phone-1", mailbox.FlagOpen, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	enqueue(t, reg, "phone-1", mailbox.KindContactSync)

	if !svc.WaitFlag(ctx, "phone-1", mailbox.FlagOpen) {
		t.Error("flag should be true")
	}
	if !svc.WaitFlag(ctx, "phone-1", mailbox.FlagOpen) {
		t.Error("reading a flag must not clear it")
	}
	if reg.PendingCount("phone-1") != 1 {
		t.Error("reading a flag must not touch the queue")
	}
}

func TestPoll_TouchesDevice(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	before, _ := reg.Get("phone-1")

	svc.Poll(context.Background(), "phone-1")

	after, _ := reg.Get("phone-1")
	if after.LastSeenAt.Before(before.LastSeenAt) {
		t.Error("LastSeenAt went backwards")
	}
}

func TestPoll_ListenersAndRecorder(t *testing.T) {
	reg, svc := setup(t, ModeLatestOnly)
	l := &mockListener{}
	rec := &mockRecorder{}
	svc.AddDeliveryListener(l)
	svc.SetRecorder(rec)
	ctx := context.Background()

	svc.Poll(ctx, "phone-1")
	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	svc.Poll(ctx, "phone-1")

	if l.deliveries != 1 || l.commands != 1 || l.superseded != 1 {
		t.Errorf("listener = %+v, want one delivery of one command with one superseded", l)
	}
	if rec.counts[EventCommandsDelivered] != 1 || rec.counts[EventCommandsSuperseded] != 1 {
		t.Errorf("recorder counts = %v", rec.counts)
	}
}

func TestPoll_ConcurrentPollersDeliverOnce(t *testing.T) {
	reg, svc := setup(t, ModeDrainAll)
	ctx := context.Background()

	const total = 500
	for i := 0; i < total; i++ {
		enqueue(t, reg, "phone-1", mailbox.KindContactSync)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := svc.Poll(ctx, "phone-1")
			mu.Lock()
			for _, c := range res.Commands {
				seen[c.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("delivered %d distinct commands, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("command %s delivered %d times", id, n)
		}
	}
}
