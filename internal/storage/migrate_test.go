package storage

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

func TestSchemaVersion(t *testing.T) {
	tests := []struct {
		name    string
		version uint
		dirty   bool
		err     error
		want    uint
		wantErr error
	}{
		{name: "fresh database", err: migrate.ErrNilVersion, want: 0},
		{name: "clean", version: 2, want: 2},
		{name: "dirty", version: 1, dirty: true, want: 1, wantErr: ErrDirtySchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := schemaVersion(tt.version, tt.dirty, tt.err)
			if got != tt.want {
				t.Errorf("version = %d, want %d", got, tt.want)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := schemaVersion(0, false, errors.New("connection reset")); err == nil {
		t.Error("expected driver error to surface")
	}
}
