package store

import (
	"context"
	"path/filepath"
	"testing"

	"tenant-ledger/pkg/store/bolt"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default is memory", Config{}, false},
		{"memory", Config{Driver: DriverMemory}, false},
		{"bolt", Config{Driver: DriverBolt, BoltPath: filepath.Join(t.TempDir(), "ledger.db")}, false},
		{"unknown", Config{Driver: "mongo"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := Open(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer repo.Close()

			seq, err := repo.NextSequence(context.Background(), "acme")
			if err != nil || seq != 1 {
				t.Errorf("Expected first sequence 1, got %d (%v)", seq, err)
			}
		})
	}
}

func TestOpen_BoltType(t *testing.T) {
	repo, err := Open(Config{Driver: DriverBolt, BoltPath: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer repo.Close()

	if _, ok := repo.(*bolt.Store); !ok {
		t.Errorf("Expected *bolt.Store, got %T", repo)
	}
}
