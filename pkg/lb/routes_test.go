//go:build linux

package lb

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"example.com":      "example.com",
		"Example.COM:8080": "example.com",
		"[::1]:80":         "::1",
		"[::1]":            "::1",
		"::1":              "::1",
		" a.b ":            "a.b",
	}
	for in, want := range tests {
		if got := normalizeHost(in); got != want {
			t.Errorf("normalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRouteTable(t *testing.T) {
	rt := newRouteTable()
	if _, err := rt.resolve("a.example", 1); err == nil {
		t.Fatal("resolved without fronts")
	}
	cmds := []Command{
		{Kind: AddBackend, Backend: "web", Address: "127.0.0.1:8001"},
		{Kind: AddBackend, Backend: "web", Address: "127.0.0.1:8002"},
		{Kind: AddBackend, Backend: "api", Address: "[::1]:9000"},
		{Kind: AddFront, Front: "api.example", Backend: "api"},
		{Kind: AddFront, Front: DefaultFront, Backend: "web"},
	}
	for i := range cmds {
		if err := rt.apply(&cmds[i]); err != nil {
			t.Fatalf("%v: %v", cmds[i], err)
		}
	}
	if err := rt.apply(&cmds[0]); err == nil {
		t.Fatal("duplicate server accepted")
	}
	if err := rt.apply(&Command{Kind: AddBackend, Backend: "x", Address: "nohost"}); err == nil {
		t.Fatal("invalid address accepted")
	}

	sas, err := rt.resolve("API.example:443", 3)
	if err != nil || len(sas) != 1 {
		t.Fatalf("api resolve: %v %v", sas, err)
	}
	if sa, ok := sas[0].(*unix.SockaddrInet6); !ok || sa.Port != 9000 {
		t.Fatalf("api resolved to %#v", sas[0])
	}

	sas, err = rt.resolve("www.example", 3)
	if err != nil || len(sas) != 2 {
		t.Fatalf("default resolve: %v %v", sas, err)
	}
	again, _ := rt.resolve("www.example", 1)
	if addrPortOf(again[0]) != addrPortOf(sas[0]) {
		t.Fatal("ranking is not stable")
	}

	if err = rt.apply(&Command{Kind: RemoveBackend, Backend: "web", Address: "127.0.0.1:8001"}); err != nil {
		t.Fatal(err)
	}
	sas, _ = rt.resolve("www.example", 3)
	if len(sas) != 1 || addrPortOf(sas[0]).Port() != 8002 {
		t.Fatalf("after removal: %v", sas)
	}
	if err = rt.apply(&Command{Kind: RemoveFront, Front: DefaultFront}); err != nil {
		t.Fatal(err)
	}
	if _, err = rt.resolve("www.example", 1); err == nil {
		t.Fatal("resolved after default front removal")
	}
	if err = rt.apply(&Command{Kind: RemoveFront, Front: DefaultFront}); err == nil {
		t.Fatal("double front removal succeeded")
	}
	if err = rt.apply(&Command{Kind: RemoveBackend, Backend: "api"}); err != nil {
		t.Fatal(err)
	}
	if _, err = rt.resolve("api.example", 1); err == nil {
		t.Fatal("resolved to removed backend")
	}
}
