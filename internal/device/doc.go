// Package device provides the device registry for Relaybox.
//
// The registry maps a device ID to its Device record and its mailbox.Mailbox.
// Every mailbox operation addressed by device ID goes through it, so the
// rule "unregistered devices have no mailbox" is enforced in one place.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                         │
//	│                                                                 │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌───────────┐  │
//	│  │     Registry     │───▶│  mailbox.Mailbox │    │ Persister │  │
//	│  │  (registry.go)   │    │  (one per device)│    │ (optional)│  │
//	│  │                  │    │                  │    │           │  │
//	│  │ • Register/List  │    │ • FIFO commands  │    │ • sync    │  │
//	│  │ • ID validation  │    │ • latest slots   │    │ • async   │  │
//	│  │ • RWMutex map    │    │ • wait flags     │    │           │  │
//	│  └──────────────────┘    └──────────────────┘    └───────────┘  │
//	└────────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	registry := device.NewRegistry(cfg.Mailbox.MaxPending)
//	registry.SetLogger(log)
//	defer registry.Close()
//
//	dev, created, err := registry.Register(ctx, "phone-1", "Pixel 8")
//	evicted, err := registry.Enqueue(ctx, "phone-1", cmd)
//	cmds := registry.DrainPending(ctx, "phone-1")
//
// # Thread Safety
//
// The device map is guarded by a read-write mutex. Each mailbox has its own
// mutex, so operations on different devices never block each other.
//
// # Persistence
//
// SetPersister installs a Persister that receives a full Snapshot after each
// successful mutation. In sync mode the flush happens before the mutating call
// returns and a failure is reported as ErrPersist (the in-memory change
// stands). In async mode flushes run on one background goroutine and bursts of
// writes coalesce into a single flush.
package device
