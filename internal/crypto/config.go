package crypto

import (
	"fmt"

	"github.com/flowbotic/runtime/internal/storage"
)

// EncryptRow encrypts the values of row's columns named in encrypted
// in-place and returns the modified row. A nil key is a no-op (the state
// manager never configures encryption without a key). Non-string values
// are left untouched — a declared-encrypted column with a non-string
// value is a spec authoring mistake, not something to silently coerce.
func EncryptRow(row storage.Row, encrypted []string, key []byte) (storage.Row, error) {
	if key == nil {
		return row, nil
	}
	for _, col := range encrypted {
		v, ok := row[col]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		enc, err := Encrypt(s, key)
		if err != nil {
			return row, fmt.Errorf("encrypt column %q: %w", col, err)
		}
		row[col] = enc
	}
	return row, nil
}

// DecryptRow decrypts the values of row's columns named in encrypted
// in-place and returns the modified row. Values without the "enc:"
// prefix are left as-is, so rows written before encryption was enabled
// still read back unchanged.
func DecryptRow(row storage.Row, encrypted []string, key []byte) (storage.Row, error) {
	if key == nil {
		return row, nil
	}
	for _, col := range encrypted {
		v, ok := row[col]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || !IsEncrypted(s) {
			continue
		}
		dec, err := Decrypt(s, key)
		if err != nil {
			return row, fmt.Errorf("decrypt column %q: %w", col, err)
		}
		row[col] = dec
	}
	return row, nil
}
