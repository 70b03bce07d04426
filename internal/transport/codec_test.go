package transport

import (
	"encoding/json"
	"testing"
	"time"

	"OverlayCompanion/internal/domain"
)

func TestDecodeFriendsNormalisesIDs(t *testing.T) {
	friends, err := DecodeFriends(json.RawMessage(`{"friends":[
		{"friend_id":5,"name":"Ann","online":true,"sessionDuration":"61","server":"EU"},
		{"friend_id":" 6 ","name":"Bob","online":false,"sessionDuration":12.7},
		{"name":"ghost"}
	]}`))
	if err != nil {
		t.Fatalf("DecodeFriends: %v", err)
	}
	if len(friends) != 2 {
		t.Fatalf("expected 2 friends, got %+v", friends)
	}
	if friends[0].ID != "5" || friends[0].SessionDuration != 61 || friends[0].Server != "EU" {
		t.Fatalf("unexpected first friend %+v", friends[0])
	}
	if friends[1].ID != "6" || friends[1].SessionDuration != 12 {
		t.Fatalf("unexpected second friend %+v", friends[1])
	}
}

func TestDecodeFriendsLenientOnlineFlag(t *testing.T) {
	friends, err := DecodeFriends(json.RawMessage(`{"friends":[
		{"friend_id":1,"name":"Ann","online":1,"sharing_location":"true"},
		{"friend_id":2,"name":"Bob","online":"0"},
		{"friend_id":3,"name":"Cid","online":"yes","sharing_location":0},
		{"friend_id":4,"name":"Dee","online":null}
	]}`))
	if err != nil {
		t.Fatalf("DecodeFriends: %v", err)
	}
	if len(friends) != 4 {
		t.Fatalf("expected 4 friends, got %+v", friends)
	}
	want := []bool{true, false, true, false}
	for i, f := range friends {
		if f.Online != want[i] {
			t.Fatalf("friend %s online = %v, want %v", f.ID, f.Online, want[i])
		}
	}
	if !friends[0].SharingLocation || friends[2].SharingLocation {
		t.Fatalf("unexpected sharing flags %+v", friends)
	}
}

func TestDecodeMissingCollectionsAreEmpty(t *testing.T) {
	for _, raw := range []string{``, `null`, `{}`, `{"friends":null}`} {
		friends, err := DecodeFriends(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("DecodeFriends(%q): %v", raw, err)
		}
		if friends == nil || len(friends) != 0 {
			t.Fatalf("DecodeFriends(%q) = %#v, want empty", raw, friends)
		}
	}
	if _, err := DecodeFriends(json.RawMessage(`{"friends":`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestDecodeFriendRequestsDropsDuplicates(t *testing.T) {
	reqs, err := DecodeFriendRequests(json.RawMessage(`{"requests":[
		{"sender_id":1,"receiver_id":2,"created_at":"2024-05-01T10:00:00Z"},
		{"sender_id":"1","receiver_id":"2"},
		{"sender_id":3,"receiver_id":2,"created_at":1714557600000}
	]}`))
	if err != nil {
		t.Fatalf("DecodeFriendRequests: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %+v", reqs)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !reqs[0].CreatedAt.Equal(want) || !reqs[1].CreatedAt.Equal(want) {
		t.Fatalf("unexpected timestamps %v %v", reqs[0].CreatedAt, reqs[1].CreatedAt)
	}
}

func TestDecodeLocationRequestsFiltersStatus(t *testing.T) {
	reqs, err := DecodeLocationRequests(json.RawMessage(`{"requests":[
		{"requester_id":1,"target_id":2,"status":"pending"},
		{"requester_id":1,"target_id":3,"status":"ACTIVE"},
		{"requester_id":1,"target_id":4,"status":"denied"}
	]}`))
	if err != nil {
		t.Fatalf("DecodeLocationRequests: %v", err)
	}
	if len(reqs) != 2 || reqs[0].Status != domain.LocationStatusPending || reqs[1].Status != domain.LocationStatusActive {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestDecodeSharedLocation(t *testing.T) {
	loc, ok, err := DecodeSharedLocation(json.RawMessage(`{"location":{"sharer_id":9,"sharer_name":"Cy","pos_x":1.5,"pos_y":-2}}`))
	if err != nil || !ok {
		t.Fatalf("DecodeSharedLocation: ok=%v err=%v", ok, err)
	}
	if loc.SharerID != "9" || loc.X != 1.5 || loc.Y != -2 {
		t.Fatalf("unexpected location %+v", loc)
	}
	if _, ok, _ := DecodeSharedLocation(json.RawMessage(`{}`)); ok {
		t.Fatalf("expected no location")
	}
}

func TestDecodePeerAndActionResult(t *testing.T) {
	p, err := DecodePeer(json.RawMessage(`{"sender_id":4,"sender_name":"Dee"}`))
	if err != nil || p.ID != "4" || p.Name != "Dee" {
		t.Fatalf("unexpected peer %+v (%v)", p, err)
	}
	res, err := DecodeActionResult(json.RawMessage(`{"success":false,"error":"nope","message":"ignored"}`))
	if err != nil || res.Success || res.Message != "nope" {
		t.Fatalf("unexpected result %+v (%v)", res, err)
	}
	res, _ = DecodeActionResult(json.RawMessage(`{"success":true,"message":"Done"}`))
	if !res.Success || res.Message != "Done" {
		t.Fatalf("unexpected result %+v", res)
	}
}
