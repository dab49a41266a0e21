package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/backend/backendtest"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/draft"
	"github.com/matheus3301/chatsync/internal/idgen"
	"github.com/matheus3301/chatsync/internal/network"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	backend *backendtest.Server
	monitor *network.Monitor
	store   *chat.Store
	client  *Client
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()

	srv := backendtest.New(t)
	ids, err := idgen.New(7)
	if err != nil {
		t.Fatal(err)
	}
	kv := store.NewMemory()
	b := bus.New()
	mon := network.NewMonitor(online, nil)
	st := chat.New(chat.Deps{
		API:     backend.New(backend.Options{BaseURL: srv.URL(), Timeout: 2 * time.Second}),
		IDs:     ids,
		Queue:   outbox.New(kv, nil),
		Drafts:  draft.NewKeeper(kv),
		Monitor: mon,
	}, chat.Config{PageSize: 5, Bus: b})
	t.Cleanup(st.Close)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterChatServer(gs, NewChatService(st, b, "test", nil))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return &harness{backend: srv, monitor: mon, store: st, client: NewClient(conn)}
}

func TestSendMessageOnline(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	resp, err := h.client.SendMessage(ctx, "hello", "")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Message.Status != "sent" || resp.Message.Pending || resp.Message.Type != "text" {
		t.Errorf("message = %+v", resp.Message)
	}
	if len(resp.State.Messages) != 1 || resp.State.Messages[0].ID != resp.Message.ID {
		t.Errorf("state messages = %+v", resp.State.Messages)
	}
	if !resp.Message.CanRecall || resp.Message.CanRetry {
		t.Errorf("flags = retry %v recall %v", resp.Message.CanRetry, resp.Message.CanRecall)
	}
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t, true)

	tests := []struct {
		name    string
		content string
		typ     string
	}{
		{"empty content", "", ""},
		{"unknown type", "hi", "video"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.SendMessage(context.Background(), tt.content, tt.typ)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("code = %v, want InvalidArgument", status.Code(err))
			}
		})
	}
}

func TestOfflineSendQueuesAndDrains(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	resp, err := h.client.SendMessage(ctx, "later", "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Status != "failed" || !resp.Message.Pending {
		t.Fatalf("offline message = %+v", resp.Message)
	}

	q, err := h.client.ListQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Entries) != 1 || q.Retryable != 1 || q.Entries[0].LocalID != resp.Message.ID {
		t.Fatalf("queue = %+v", q)
	}

	drain, err := h.client.ProcessQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if drain.Attempted != 1 || drain.Sent != 1 || drain.Aborted {
		t.Errorf("drain = %+v", drain)
	}
	if n := len(drain.State.OfflineQueue); n != 0 {
		t.Errorf("queue holds %d entries after drain", n)
	}
	if m := drain.State.Messages[0]; m.Status != "sent" || m.Pending {
		t.Errorf("reconciled message = %+v", m)
	}
}

func TestRetryAfterServerFailure(t *testing.T) {
	h := newHarness(t, true)
	h.backend.Fail(backendtest.RouteCreate, 1)
	ctx := context.Background()

	resp, err := h.client.SendMessage(ctx, "flaky", "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Status != "failed" || !resp.Message.CanRetry {
		t.Fatalf("message = %+v", resp.Message)
	}

	retry, err := h.client.RetryMessage(ctx, resp.Message.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !retry.Applied || retry.Message == nil || retry.Message.Status != "sent" {
		t.Errorf("retry = %+v", retry)
	}
	if n := len(h.backend.Records()); n != 1 {
		t.Errorf("backend holds %d records, want 1", n)
	}
}

func TestRetryUnknownIsNotFound(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.client.RetryMessage(context.Background(), 12345)
	if status.Code(err) != codes.NotFound {
		t.Errorf("code = %v, want NotFound", status.Code(err))
	}
}

func TestLoadAndFilter(t *testing.T) {
	h := newHarness(t, true)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		sender := "user"
		if i%2 == 1 {
			sender = "bot"
		}
		h.backend.Seed(backendtest.Record{Content: "note", Sender: sender, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	ctx := context.Background()

	st, err := h.client.LoadInitial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Messages) != 5 || !st.HasMore {
		t.Fatalf("initial load = %d messages, hasMore %v", len(st.Messages), st.HasMore)
	}

	more, err := h.client.LoadMore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !more.Applied || len(more.State.Messages) != 8 {
		t.Errorf("load more applied=%v messages=%d", more.Applied, len(more.State.Messages))
	}

	if _, err := h.client.SetSenderFilter(ctx, "bot"); err != nil {
		t.Fatal(err)
	}
	filtered, err := h.client.GetFilteredMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered.Messages) != 4 {
		t.Errorf("bot filter kept %d messages, want 4", len(filtered.Messages))
	}

	_, err = h.client.SetSenderFilter(ctx, "robots")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad filter code = %v", status.Code(err))
	}
}

func TestDraftAndBottom(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	st, err := h.client.SetDraft(ctx, "half typed")
	if err != nil {
		t.Fatal(err)
	}
	if st.Draft != "half typed" {
		t.Errorf("Draft = %q", st.Draft)
	}

	st, err = h.client.SetAtBottom(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if st.IsAtBottom {
		t.Error("IsAtBottom still true")
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	w, err := h.client.Watch(ctx, "message.")
	if err != nil {
		t.Fatal(err)
	}

	// The subscription is registered once the server handler runs; keep
	// sending until the first event arrives.
	got := make(chan *Event, 1)
	go func() {
		evt, err := w.Recv()
		if err == nil {
			got <- evt
		}
	}()

	for {
		if _, err := h.client.SendMessage(ctx, "ping", ""); err != nil {
			t.Fatal(err)
		}
		select {
		case evt := <-got:
			if evt.ID == "" || evt.Profile != "test" || evt.Kind != bus.MessageAppended && evt.Kind != bus.MessageUpdated {
				t.Errorf("event = %+v", evt)
			}
			if len(evt.Payload) == 0 {
				t.Error("event has no payload")
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no event before deadline")
		}
	}
}
