package protocol

import "testing"

func TestTarget(t *testing.T) {
	cases := []struct {
		origin string
		want   string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/board/7/42?username=alice+b"},
		{"https://chess.example.com/room/7", "wss://chess.example.com/ws/board/7/42?username=alice+b"},
	}
	for _, tc := range cases {
		got, err := Target(Identity{Origin: tc.origin, RoomID: "7", UserID: "42", Username: "alice b"})
		if err != nil {
			t.Fatalf("Target(%q): %v", tc.origin, err)
		}
		if got != tc.want {
			t.Errorf("Target(%q) = %q, want %q", tc.origin, got, tc.want)
		}
	}
}

func TestTargetRequiresIdentity(t *testing.T) {
	if _, err := Target(Identity{Origin: "http://h", UserID: "1"}); err == nil {
		t.Fatalf("expected error without room")
	}
	if _, err := Target(Identity{Origin: "ftp://h", RoomID: "1", UserID: "1"}); err == nil {
		t.Fatalf("expected error for ftp origin")
	}
}
