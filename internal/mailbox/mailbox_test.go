package mailbox

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func mustCommand(t *testing.T, kind Kind, p Payload) Command {
	t.Helper()
	cmd, err := NewCommand(kind, p)
	if err != nil {
		t.Fatalf("NewCommand(%s) error = %v", kind, err)
	}
	return cmd
}

// ─── Command Tests ───────────────────────────────────────────────────

func TestNewCommand(t *testing.T) {
	five := 5
	neg := -1

	tests := []struct {
		name    string
		kind    Kind
		payload Payload
		want    Payload
		wantErr bool
	}{
		{"sms valid", KindSMS, Payload{Number: " +441234 ", Message: "hi", Code: "x"}, Payload{Number: "+441234", Message: "hi"}, false},
		{"sms missing number", KindSMS, Payload{Message: "hi"}, Payload{}, true},
		{"sms missing message", KindSMS, Payload{Number: "123"}, Payload{}, true},
		{"ussd default slot", KindUSSD, Payload{Code: "*100#"}, Payload{Code: "*100#", SimSlot: intPtr(0)}, false},
		{"ussd explicit slot", KindUSSD, Payload{Code: "*100#", SimSlot: &five}, Payload{Code: "*100#", SimSlot: &five}, false},
		{"ussd negative slot", KindUSSD, Payload{Code: "*100#", SimSlot: &neg}, Payload{}, true},
		{"ussd missing code", KindUSSD, Payload{}, Payload{}, true},
		{"contact sync strips fields", KindContactSync, Payload{Number: "1"}, Payload{}, false},
		{"device details", KindDeviceDetails, Payload{}, Payload{}, false},
		{"media request", KindMediaRequest, Payload{}, Payload{}, false},
		{"unknown kind", Kind("reboot"), Payload{}, Payload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := NewCommand(tt.kind, tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Fatalf("error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.ID == "" {
				t.Error("ID is empty")
			}
			if cmd.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", cmd.Kind, tt.kind)
			}
			if cmd.CreatedAt.IsZero() {
				t.Error("CreatedAt is zero")
			}
			assertPayload(t, cmd.Payload, tt.want)
		})
	}
}

func TestNewCommand_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		cmd := mustCommand(t, KindContactSync, Payload{})
		if seen[cmd.ID] {
			t.Fatalf("duplicate ID %s", cmd.ID)
		}
		seen[cmd.ID] = true
	}
}

func TestCommand_JSONShape(t *testing.T) {
	cmd := mustCommand(t, KindSMS, Payload{Number: "123", Message: "hello"})

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != "sms" {
		t.Errorf("type = %v, want sms", decoded["type"])
	}
	payload, ok := decoded["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing: %s", data)
	}
	if _, has := payload["code"]; has {
		t.Errorf("sms payload should not carry code: %s", data)
	}
}

// ─── Queue Tests ─────────────────────────────────────────────────────

func TestMailbox_DrainPending_FIFO(t *testing.T) {
	m := New(0)

	var ids []string
	for i := 0; i < 3; i++ {
		cmd := mustCommand(t, KindContactSync, Payload{})
		ids = append(ids, cmd.ID)
		m.Enqueue(cmd)
	}

	got := m.DrainPending()
	if len(got) != 3 {
		t.Fatalf("drained %d commands, want 3", len(got))
	}
	for i, cmd := range got {
		if cmd.ID != ids[i] {
			t.Errorf("command %d ID = %s, want %s", i, cmd.ID, ids[i])
		}
	}

	again := m.DrainPending()
	if again == nil {
		t.Fatal("second drain returned nil, want empty slice")
	}
	if len(again) != 0 {
		t.Errorf("second drain returned %d commands, want 0", len(again))
	}
}

func TestMailbox_DrainPending_EmptyNeverNil(t *testing.T) {
	m := New(0)
	if got := m.DrainPending(); got == nil || len(got) != 0 {
		t.Errorf("DrainPending() = %#v, want empty non-nil slice", got)
	}
}

func TestMailbox_DrainDoesNotAliasNewQueue(t *testing.T) {
	m := New(0)
	first := mustCommand(t, KindSMS, Payload{Number: "1", Message: "a"})
	m.Enqueue(first)
	drained := m.DrainPending()

	second := mustCommand(t, KindSMS, Payload{Number: "2", Message: "b"})
	m.Enqueue(second)

	if drained[0].ID != first.ID {
		t.Errorf("drained slice changed after enqueue: got %s", drained[0].ID)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestMailbox_Enqueue_DropOldest(t *testing.T) {
	m := New(2)

	a := mustCommand(t, KindContactSync, Payload{})
	b := mustCommand(t, KindDeviceDetails, Payload{})
	c := mustCommand(t, KindMediaRequest, Payload{})

	if ev := m.Enqueue(a); ev != 0 {
		t.Errorf("evicted = %d, want 0", ev)
	}
	m.Enqueue(b)
	if ev := m.Enqueue(c); ev != 1 {
		t.Errorf("evicted = %d, want 1", ev)
	}

	got := m.DrainPending()
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != c.ID {
		t.Errorf("drained = %v, want [b c]", ids(got))
	}
}

func TestMailbox_TakeLatest(t *testing.T) {
	m := New(0)

	if _, _, ok := m.TakeLatest(); ok {
		t.Fatal("TakeLatest on empty mailbox returned ok")
	}

	var last Command
	for i := 0; i < 4; i++ {
		last = mustCommand(t, KindDeviceDetails, Payload{})
		m.Enqueue(last)
	}

	cmd, superseded, ok := m.TakeLatest()
	if !ok {
		t.Fatal("TakeLatest returned !ok")
	}
	if cmd.ID != last.ID {
		t.Errorf("ID = %s, want newest %s", cmd.ID, last.ID)
	}
	if superseded != 3 {
		t.Errorf("superseded = %d, want 3", superseded)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after TakeLatest, want 0", m.Len())
	}
}

// ─── Slot Tests ──────────────────────────────────────────────────────

func TestMailbox_GetLatest_Defaults(t *testing.T) {
	m := New(0)

	tests := []struct {
		slot Slot
		want string
	}{
		{SlotSMS, `{}`},
		{SlotContacts, `[]`},
		{SlotDeviceDetails, `{}`},
		{SlotMedia, `{}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.slot), func(t *testing.T) {
			if got := string(m.GetLatest(tt.slot)); got != tt.want {
				t.Errorf("GetLatest(%s) = %s, want %s", tt.slot, got, tt.want)
			}
		})
	}
}

func TestMailbox_SetLatest_Replaces(t *testing.T) {
	m := New(0)

	if err := m.SetLatest(SlotContacts, json.RawMessage(`[{"name":"a"}]`)); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}
	if err := m.SetLatest(SlotContacts, json.RawMessage(`[{"name":"b"}]`)); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}

	if got := string(m.GetLatest(SlotContacts)); got != `[{"name":"b"}]` {
		t.Errorf("GetLatest = %s, want second write", got)
	}
}

func TestMailbox_SetLatest_CopiesInput(t *testing.T) {
	m := New(0)
	value := json.RawMessage(`{"a":1}`)
	if err := m.SetLatest(SlotDeviceDetails, value); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}
	value[5] = '2'

	if got := string(m.GetLatest(SlotDeviceDetails)); got != `{"a":1}` {
		t.Errorf("stored value mutated through caller slice: %s", got)
	}

	out := m.GetLatest(SlotDeviceDetails)
	out[5] = '9'
	if got := string(m.GetLatest(SlotDeviceDetails)); got != `{"a":1}` {
		t.Errorf("stored value mutated through returned slice: %s", got)
	}
}

func TestMailbox_SetLatest_Invalid(t *testing.T) {
	m := New(0)

	if err := m.SetLatest(Slot("photos"), json.RawMessage(`{}`)); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("unknown slot error = %v, want ErrInvalidSlot", err)
	}
	if err := m.SetLatest(SlotSMS, json.RawMessage(`{bad`)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("bad JSON error = %v, want ErrInvalidValue", err)
	}
	if err := m.SetLatest(SlotSMS, nil); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("empty value error = %v, want ErrInvalidValue", err)
	}
}

func TestParseSlot(t *testing.T) {
	if s, err := ParseSlot("device_details"); err != nil || s != SlotDeviceDetails {
		t.Errorf("ParseSlot(device_details) = %q, %v", s, err)
	}
	if _, err := ParseSlot("nope"); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("ParseSlot(nope) error = %v, want ErrInvalidSlot", err)
	}
}

// ─── Flag Tests ──────────────────────────────────────────────────────

func TestMailbox_Flags(t *testing.T) {
	m := New(0)

	if m.Flag(FlagOpen) {
		t.Error("unset flag should be false")
	}
	if err := m.SetFlag(FlagOpen, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if !m.Flag(FlagOpen) {
		t.Error("flag should be true after SetFlag(true)")
	}
	if m.Flag(FlagMedia) {
		t.Error("flags must be independent")
	}
	if err := m.SetFlag(FlagOpen, false); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if m.Flag(FlagOpen) {
		t.Error("flag should be false after SetFlag(false)")
	}

	if err := m.SetFlag("", true); !errors.Is(err, ErrInvalidFlag) {
		t.Errorf("empty flag error = %v, want ErrInvalidFlag", err)
	}
}

func TestMailbox_FlagDoesNotTouchQueue(t *testing.T) {
	m := New(0)
	m.Enqueue(mustCommand(t, KindContactSync, Payload{}))
	_ = m.SetFlag(FlagMedia, true)
	_ = m.Flag(FlagMedia)

	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

// ─── Snapshot Tests ──────────────────────────────────────────────────

func TestMailbox_SnapshotRestore(t *testing.T) {
	m := New(0)
	a := mustCommand(t, KindSMS, Payload{Number: "1", Message: "x"})
	b := mustCommand(t, KindUSSD, Payload{Code: "*1#"})
	m.Enqueue(a)
	m.Enqueue(b)
	_ = m.SetLatest(SlotSMS, json.RawMessage(`{"from":"me"}`))
	_ = m.SetFlag(FlagMedia, true)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	restored := Restore(st, 0)
	got := restored.DrainPending()
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Errorf("restored queue = %v, want [a b]", ids(got))
	}
	if string(restored.GetLatest(SlotSMS)) != `{"from":"me"}` {
		t.Errorf("restored sms = %s", restored.GetLatest(SlotSMS))
	}
	if !restored.Flag(FlagMedia) {
		t.Error("restored media flag should be true")
	}
}

func TestRestore_AppliesCap(t *testing.T) {
	st := State{}
	for i := 0; i < 5; i++ {
		st.Pending = append(st.Pending, mustCommand(t, KindContactSync, Payload{}))
	}

	m := Restore(st, 2)
	got := m.DrainPending()
	if len(got) != 2 || got[1].ID != st.Pending[4].ID {
		t.Errorf("restored with cap = %v, want last two", ids(got))
	}
}

// ─── Concurrency Tests ───────────────────────────────────────────────

func TestMailbox_ConcurrentEnqueueDrain(t *testing.T) {
	m := New(0)

	const producers = 8
	const perProducer = 250

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered = make(map[string]int)
	)

	collect := func(cmds []Command) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range cmds {
			delivered[c.ID]++
		}
	}

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				cmd, err := NewCommand(KindContactSync, Payload{})
				if err != nil {
					t.Errorf("NewCommand: %v", err)
					return
				}
				m.Enqueue(cmd)
			}
		}()
	}

	done := make(chan struct{})
	var drainers sync.WaitGroup
	for d := 0; d < 4; d++ {
		drainers.Add(1)
		go func() {
			defer drainers.Done()
			for {
				select {
				case <-done:
					return
				default:
					collect(m.DrainPending())
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	drainers.Wait()
	collect(m.DrainPending())

	if len(delivered) != producers*perProducer {
		t.Errorf("delivered %d distinct commands, want %d", len(delivered), producers*perProducer)
	}
	for id, n := range delivered {
		if n != 1 {
			t.Errorf("command %s delivered %d times", id, n)
		}
	}
}

func assertPayload(t *testing.T, got, want Payload) {
	t.Helper()
	if got.Number != want.Number || got.Message != want.Message || got.Code != want.Code {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
	switch {
	case got.SimSlot == nil && want.SimSlot == nil:
	case got.SimSlot == nil || want.SimSlot == nil:
		t.Errorf("SimSlot = %v, want %v", got.SimSlot, want.SimSlot)
	case *got.SimSlot != *want.SimSlot:
		t.Errorf("SimSlot = %d, want %d", *got.SimSlot, *want.SimSlot)
	}
}

func intPtr(v int) *int { return &v }

func ids(cmds []Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.ID
	}
	return out
}
