package directory

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/convento/voicemesh/internal/domain"
	"github.com/convento/voicemesh/internal/relaytest"
)

func newTestClient(t *testing.T) (*relaytest.Server, *Client) {
	t.Helper()
	srv := relaytest.NewServer()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, NewClient(ts.URL, 2*time.Second)
}

func TestCreateRoomEnrollsCreator(t *testing.T) {
	_, client := newTestClient(t)

	room, err := client.CreateRoom(context.Background(), "general", "#ff0000", "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if room.ID == "" {
		t.Fatal("room without identifier")
	}
	if room.Name != "general" || room.CreatorID != "alice" {
		t.Fatalf("room fields lost: %+v", room)
	}
	if !room.HasParticipant("alice") {
		t.Fatal("creator not enrolled as first participant")
	}
}

func TestListRoomsExcludesPrivate(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.CreateRoom(ctx, "public", "", "alice", false); err != nil {
		t.Fatal(err)
	}
	if _, err := client.CreateRoom(ctx, "hidden", "", "alice", true); err != nil {
		t.Fatal(err)
	}

	rooms, err := client.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].Name != "public" {
		t.Fatalf("listing = %+v, want only the public room", rooms)
	}
}

func TestJoinLeaveLifecycle(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()
	srv.RegisterUser(domain.Participant{ID: "bob", Username: "Bob"})

	room, err := client.CreateRoom(ctx, "general", "", "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Join(ctx, room.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	// Idempotent on the server side.
	if err := client.Join(ctx, room.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	list, err := client.Participants(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("participants = %d, want 2", len(list))
	}
	var bob *domain.Participant
	for i := range list {
		if list[i].ID == "bob" {
			bob = &list[i]
		}
	}
	if bob == nil || bob.Username != "Bob" {
		t.Fatalf("registered metadata not returned: %+v", list)
	}

	if err := client.Leave(ctx, room.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	list, err = client.Participants(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "alice" {
		t.Fatalf("after leave: %+v", list)
	}
}

func TestEmptyRoomIsDeleted(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	room, err := client.CreateRoom(ctx, "general", "", "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Leave(ctx, room.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Participants(ctx, room.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after last member left", err)
	}
}

func TestSetVisibilityCreatorOnly(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	room, err := client.CreateRoom(ctx, "general", "", "alice", false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.SetVisibility(ctx, room.ID, "mallory", true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden for non-creator", err)
	}

	updated, err := client.SetVisibility(ctx, room.ID, "alice", true)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Private {
		t.Fatal("room not made private")
	}

	rooms, err := client.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 0 {
		t.Fatalf("private room still listed: %+v", rooms)
	}
}

func TestUnknownRoomMapsToNotFound(t *testing.T) {
	_, client := newTestClient(t)

	if err := client.Join(context.Background(), "ghost", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
