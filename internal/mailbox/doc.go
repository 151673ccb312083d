// Package mailbox implements the per-device command mailbox.
//
// A Mailbox holds three kinds of state, each with its own retention policy:
//
//   - Pending commands: FIFO queue. Insertion order is delivery order and a
//     drain hands the whole queue to exactly one caller.
//   - Latest-value slots (sms, contacts, device_details, media): the newest
//     write replaces the previous value; no history is kept.
//   - Flags: named booleans used for "please do X now" wait requests that the
//     device checks independently of the command queue.
//
// Every Mailbox method runs in a single critical section, so a concurrent
// Enqueue is observed either before a drain (and delivered by it) or after
// it (and kept for the next poll).
//
// Mailboxes do not know about device registration. Lookup, lifecycle and
// persistence belong to device.Registry.
package mailbox
