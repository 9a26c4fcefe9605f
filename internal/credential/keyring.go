package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "mailprint"

// MailboxKey is the keyring key of the IMAP password for username.
func MailboxKey(username string) string { return "imap:" + username }

// SMTPKey is the keyring key of the SMTP password for username.
func SMTPKey(username string) string { return "smtp:" + username }

// ErrNotFound is returned when no credential exists for a key.
var ErrNotFound = keyring.ErrKeyNotFound

// open is swapped out in tests.
var open = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailprint/credentials",
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// filePassword unlocks the file backend on headless hosts. It can be
// changed through MAILPRINT_KEYRING_PASSWORD.
func filePassword(string) (string, error) {
	if pw := os.Getenv("MAILPRINT_KEYRING_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "mailprint-file-key", nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailprint " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Resolve returns override when it is set and otherwise looks key up in the
// keyring. A missing key yields "" without error so that servers accepting
// empty passwords keep working.
func Resolve(override, key string) (string, error) {
	if override != "" {
		return override, nil
	}
	value, err := Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}
