package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestNewSealer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "missing key", key: "", wantErr: ErrMissingKey},
		{name: "short key", key: "short", wantErr: ErrInvalidKey},
		{name: "raw key", key: strings.Repeat("k", 32)},
		{name: "base64 key", key: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("b", 32)))},
		{name: "base64 of wrong size", key: base64.StdEncoding.EncodeToString([]byte("tiny")), wantErr: ErrInvalidKey},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sealer, err := NewSealer(tc.key)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil || sealer == nil {
				t.Fatalf("expected sealer, got %v", err)
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}

	first, err := sealer.Seal("bearer-token", "user:1")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	second, err := sealer.Seal("bearer-token", "user:1")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct ciphertexts for repeated seals")
	}

	opened, err := sealer.Open(first, "user:1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened != "bearer-token" {
		t.Fatalf("expected bearer-token, got %q", opened)
	}
}

func TestOpen_RejectsOtherOwner(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}
	sealed, err := sealer.Seal("bearer-token", "user:1")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := sealer.Open(sealed, "user:2"); err == nil {
		t.Fatal("expected open with another owner to fail")
	}
}

func TestOpen_RejectsShortCiphertext(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}
	short := base64.RawURLEncoding.EncodeToString([]byte("abc"))
	if _, err := sealer.Open(short, "user:1"); !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}
