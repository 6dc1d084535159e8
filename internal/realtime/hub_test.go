package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_, _ = logger.Init("error", "console")
	os.Exit(m.Run())
}

func TestFilterMatches(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	own := NewEvent("notifications", ActionInsert, alice, false, map[string]string{"title": "hi"})
	public := NewEvent("sbts", ActionUpdate, bob, true, nil)

	require.True(t, Filter{UserID: alice}.Matches(own))
	require.False(t, Filter{UserID: bob}.Matches(own))
	require.True(t, Filter{UserID: bob}.Matches(public))
	require.False(t, Filter{Table: "sbts", UserID: alice}.Matches(own))
	require.True(t, Filter{All: true}.Matches(own))
	require.False(t, Filter{}.Matches(own), "anonymous filter only sees public rows")
}

func TestHubDeliversAndDropsWithoutBlocking(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	sub := hub.Subscribe(Filter{UserID: user}, 1)
	defer sub.Close()
	other := hub.Subscribe(Filter{UserID: uuid.New()}, 1)
	defer other.Close()

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(),
			NewEvent("mint_requests", ActionUpdate, user, false, nil),
			NewEvent("mint_requests", ActionUpdate, user, false, nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	e := <-sub.C
	require.Equal(t, "mint_requests", e.Table)
	select {
	case <-sub.C:
		t.Fatal("second event should have been dropped")
	default:
	}
	select {
	case <-other.C:
		t.Fatal("event leaked to another user")
	default:
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(Filter{All: true}, 0)
	sub.Close()
	sub.Close()
	_, ok := <-sub.C
	require.False(t, ok)
	hub.Publish(context.Background(), NewEvent("sbts", ActionUpdate, uuid.Nil, true, nil))
}

func TestServeWSStreamsMatchingEvents(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, Filter{UserID: user})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subs) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(context.Background(),
		NewEvent("notifications", ActionInsert, uuid.New(), false, nil),
		NewEvent("notifications", ActionInsert, user, false, map[string]string{"title": "mine"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, user, got.UserID)

	var row map[string]string
	require.NoError(t, json.Unmarshal(got.Row, &row))
	require.Equal(t, "mine", row["title"])
}

func TestServeWSRejectsForeignOrigin(t *testing.T) {
	hub := NewHub()
	hub.AllowOrigins("https://vault.example.com/")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, Filter{All: true})
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.net"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://VAULT.example.com"}})
	require.NoError(t, err)
	conn.Close()

	// Non-browser clients carry no Origin header.
	conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestRecentKeepsNewestFirstWithinCapacity(t *testing.T) {
	hub := NewHub()
	require.Empty(t, hub.Recent(20))

	for i := 0; i < activityCapacity+5; i++ {
		hub.Publish(context.Background(), NewEvent("sbts", ActionUpdate, uuid.Nil, true, map[string]int{"id": i}))
	}

	all := hub.Recent(0)
	require.Len(t, all, activityCapacity)

	latest := hub.Recent(20)
	require.Len(t, latest, 20)
	var row map[string]int
	require.NoError(t, json.Unmarshal(latest[0].Row, &row))
	require.Equal(t, activityCapacity+4, row["id"])
	require.NoError(t, json.Unmarshal(all[len(all)-1].Row, &row))
	require.Equal(t, 5, row["id"])
}
