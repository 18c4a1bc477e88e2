package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/zaloga/internal/store"
)

// ErrWrongPairingKey is returned when a device presents the wrong key.
var ErrWrongPairingKey = errors.New("wrong pairing key")

// pairingCharset leaves out characters that are easy to misread.
const pairingCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GeneratePairingKey returns a random key in four dash-separated groups of
// four, e.g. "K7QD-9ZP2-XM4H-TT8R".
func GeneratePairingKey() (string, error) {
	var b strings.Builder
	for i := 0; i < 16; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pairingCharset))))
		if err != nil {
			return "", err
		}
		b.WriteByte(pairingCharset[n.Int64()])
	}
	return b.String(), nil
}

// normalizeKey makes typed keys forgiving about case, spaces and dashes.
func normalizeKey(key string) string {
	key = strings.ToUpper(key)
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, key)
}

// EnsurePairingKey creates the server's pairing key on first start. It
// returns the plaintext key only when this call created it; afterwards only
// the bcrypt hash exists and the key cannot be recovered.
func EnsurePairingKey(ctx context.Context, db *sql.DB) (string, error) {
	if _, ok, err := store.GetSetting(ctx, db, store.SettingPairingHash); err != nil || ok {
		return "", err
	}

	key, err := GeneratePairingKey()
	if err != nil {
		return "", fmt.Errorf("generating pairing key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(normalizeKey(key)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing pairing key: %w", err)
	}

	stored, err := store.InitSetting(ctx, db, store.SettingPairingHash, string(hash))
	if err != nil {
		return "", err
	}
	if stored != string(hash) {
		// Another process got there first.
		return "", nil
	}
	return key, nil
}

// ResetPairingKey replaces the pairing key and returns the new one. Devices
// already paired keep their tokens.
func ResetPairingKey(ctx context.Context, db *sql.DB) (string, error) {
	key, err := GeneratePairingKey()
	if err != nil {
		return "", fmt.Errorf("generating pairing key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(normalizeKey(key)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing pairing key: %w", err)
	}
	if err := store.PutSetting(ctx, db, store.SettingPairingHash, string(hash)); err != nil {
		return "", err
	}
	return key, nil
}

// CheckPairingKey compares key with the stored hash.
func CheckPairingKey(ctx context.Context, db *sql.DB, key string) error {
	hash, ok, err := store.GetSetting(ctx, db, store.SettingPairingHash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: server has no pairing key", ErrWrongPairingKey)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalizeKey(key))); err != nil {
		return ErrWrongPairingKey
	}
	return nil
}
