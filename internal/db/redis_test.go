package db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mr.Keys(); len(got) != 1 || got[0] != "k" {
		t.Errorf("keys = %v, want [k]", got)
	}
}

func TestOpenRedis_Errors(t *testing.T) {
	testCases := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "http://localhost:6379"},
		{"unreachable", "redis://127.0.0.1:1/0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := OpenRedis(context.Background(), tc.url)
			if err == nil {
				client.Close()
				t.Fatalf("OpenRedis(%q) should return error", tc.url)
			}
		})
	}
}
