package mailbox

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
	"github.com/v1truv1us/fleettools-sub002/internal/projection"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func setupMailbox(t *testing.T) (*Manager, *eventlog.Log, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fleet-mailbox-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := storage.Open(context.Background(), storage.Config{
		Path:       filepath.Join(tmpDir, "fleet.db"),
		PathPolicy: config.PolicyPreserve,
		Logger:     log.Nop(),
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open store: %v", err)
	}

	registry := projection.NewRegistry(log.Nop())
	elog := eventlog.New(store, ident.NewGenerator(), registry, log.Nop())
	mgr := NewManager(store, elog, ident.NewGenerator(), log.Nop())
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return mgr, elog, cleanup
}

func mustSend(t *testing.T, mgr *Manager, mailboxID, msgType string) *types.Message {
	t.Helper()
	msg, err := mgr.Send(context.Background(), SendRequest{
		MailboxID:   mailboxID,
		MessageType: msgType,
		Content:     map[string]interface{}{"body": msgType},
	})
	if err != nil {
		t.Fatalf("failed to send %s: %v", msgType, err)
	}
	return msg
}

func TestSendCreatesMailboxAndMessage(t *testing.T) {
	mgr, _, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	sender := "spc-aaaaaaaa"
	msg, err := mgr.Send(ctx, SendRequest{
		MailboxID:   "spc-bbbbbbbb",
		SenderID:    &sender,
		MessageType: "task_handoff",
		Content:     map[string]interface{}{"note": "take sortie 3"},
		Priority:    types.MsgPriorityHigh,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.HasPrefix(msg.ID, "msg-") {
		t.Errorf("expected msg- prefix, got %s", msg.ID)
	}
	if msg.Status != types.MessagePending {
		t.Errorf("new message must be pending, got %s", msg.Status)
	}

	mb, err := mgr.GetMailbox(ctx, "spc-bbbbbbbb")
	if err != nil {
		t.Fatalf("mailbox should exist after first send: %v", err)
	}
	if mb.OwnerID != "spc-bbbbbbbb" {
		t.Errorf("addressee owns the mailbox, got owner %s", mb.OwnerID)
	}

	got, err := mgr.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to get message: %v", err)
	}
	if got.Content["note"] != "take sortie 3" {
		t.Errorf("content did not round-trip: %v", got.Content)
	}
	if got.SenderID == nil || *got.SenderID != sender {
		t.Errorf("sender did not round-trip: %v", got.SenderID)
	}
	if got.Priority != types.MsgPriorityHigh {
		t.Errorf("expected high priority, got %s", got.Priority)
	}
}

func TestSendValidation(t *testing.T) {
	mgr, _, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"missing mailbox", SendRequest{MessageType: "x"}},
		{"uppercase mailbox", SendRequest{MailboxID: "Frontend", MessageType: "x"}},
		{"missing type", SendRequest{MailboxID: "spc-aaaaaaaa"}},
		{"bad priority", SendRequest{MailboxID: "spc-aaaaaaaa", MessageType: "x", Priority: "asap"}},
	}
	for _, tc := range cases {
		if _, err := mgr.Send(ctx, tc.req); !types.IsKind(err, types.KindValidation) {
			t.Errorf("%s: expected VALIDATION, got %v", tc.name, err)
		}
	}
}

func TestMailboxOrderAndPending(t *testing.T) {
	mgr, _, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	current := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	mgr.SetNow(func() time.Time { return current })

	m1 := mustSend(t, mgr, "spc-aaaaaaaa", "m1")
	current = current.Add(10 * time.Millisecond)
	m2 := mustSend(t, mgr, "spc-aaaaaaaa", "m2")
	current = current.Add(10 * time.Millisecond)
	m3 := mustSend(t, mgr, "spc-aaaaaaaa", "m3")

	all, err := mgr.GetByMailbox(ctx, "spc-aaaaaaaa", QueryOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != m1.ID || all[1].ID != m2.ID || all[2].ID != m3.ID {
		t.Fatalf("expected [m1 m2 m3] order, got %d messages", len(all))
	}

	if _, err := mgr.MarkRead(ctx, m2.ID, nil); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	pending, err := mgr.GetPending(ctx, "spc-aaaaaaaa")
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != m1.ID || pending[1].ID != m3.ID {
		t.Fatalf("expected pending [m1 m3], got %d messages", len(pending))
	}
}

func TestInsertionTiebreakOnEqualSentAt(t *testing.T) {
	mgr, _, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	// Frozen clock: both messages share sent_at to the millisecond.
	current := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	mgr.SetNow(func() time.Time { return current })

	first := mustSend(t, mgr, "spc-aaaaaaaa", "first")
	second := mustSend(t, mgr, "spc-aaaaaaaa", "second")

	all, err := mgr.GetByMailbox(ctx, "spc-aaaaaaaa", QueryOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Fatal("insertion order must break the sent_at tie")
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	mgr, elog, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	msg := mustSend(t, mgr, "spc-aaaaaaaa", "m1")
	if _, err := mgr.MarkRead(ctx, msg.ID, nil); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}

	countAfterFirst, err := elog.Count(ctx, eventlog.Filter{
		StreamType: types.StreamSquawk, StreamID: "spc-aaaaaaaa",
	})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}

	again, err := mgr.MarkRead(ctx, msg.ID, nil)
	if err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}
	if again.Status != types.MessageRead {
		t.Errorf("expected read, got %s", again.Status)
	}

	countAfterSecond, err := elog.Count(ctx, eventlog.Filter{
		StreamType: types.StreamSquawk, StreamID: "spc-aaaaaaaa",
	})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if countAfterSecond != countAfterFirst {
		t.Errorf("idempotent call must not append: %d -> %d", countAfterFirst, countAfterSecond)
	}
}

func TestAcknowledgeIsTerminal(t *testing.T) {
	mgr, elog, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	// Ack straight from pending is legal.
	msg := mustSend(t, mgr, "spc-aaaaaaaa", "m1")
	acked, err := mgr.Acknowledge(ctx, msg.ID, nil)
	if err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if acked.Status != types.MessageAcked || acked.AckedAt == nil {
		t.Fatalf("expected acked with acked_at, got %+v", acked)
	}

	before, err := elog.Count(ctx, eventlog.Filter{
		StreamType: types.StreamSquawk, StreamID: "spc-aaaaaaaa",
	})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}

	// Neither a repeat ack nor a late read moves it.
	if _, err := mgr.Acknowledge(ctx, msg.ID, nil); err != nil {
		t.Fatalf("repeat ack failed: %v", err)
	}
	late, err := mgr.MarkRead(ctx, msg.ID, nil)
	if err != nil {
		t.Fatalf("late read failed: %v", err)
	}
	if late.Status != types.MessageAcked {
		t.Errorf("acked is terminal, got %s", late.Status)
	}

	after, err := elog.Count(ctx, eventlog.Filter{
		StreamType: types.StreamSquawk, StreamID: "spc-aaaaaaaa",
	})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if after != before {
		t.Errorf("terminal-state calls must not append: %d -> %d", before, after)
	}
}

func TestRequeueResetsDeliveryState(t *testing.T) {
	mgr, _, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	msg := mustSend(t, mgr, "spc-aaaaaaaa", "m1")
	if _, err := mgr.MarkRead(ctx, msg.ID, nil); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if _, err := mgr.Acknowledge(ctx, msg.ID, nil); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	chk := "chk-aaaaaaaa"
	err := mgr.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		_, err := mgr.RequeueTx(ctx, tx, msg.ID, &chk, nil)
		return err
	})
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	got, err := mgr.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to get message: %v", err)
	}
	if got.Status != types.MessagePending {
		t.Errorf("expected pending after requeue, got %s", got.Status)
	}
	if got.ReadAt != nil || got.AckedAt != nil {
		t.Error("requeue must clear read_at and acked_at")
	}

	pending, err := mgr.GetPending(ctx, "spc-aaaaaaaa")
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected the message back in the pending queue, got %d", len(pending))
	}
}

func TestGetByMailboxLimitOffset(t *testing.T) {
	mgr, _, cleanup := setupMailbox(t)
	defer cleanup()
	ctx := context.Background()

	current := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	mgr.SetNow(func() time.Time { return current })
	for _, name := range []string{"m1", "m2", "m3", "m4"} {
		mustSend(t, mgr, "spc-aaaaaaaa", name)
		current = current.Add(time.Millisecond)
	}

	page, err := mgr.GetByMailbox(ctx, "spc-aaaaaaaa", QueryOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 2 || page[0].MessageType != "m2" || page[1].MessageType != "m3" {
		t.Fatalf("expected [m2 m3], got %d messages", len(page))
	}
}
