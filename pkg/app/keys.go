package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/keystore"
	"github.com/papercomputeco/accord/pkg/signing"
)

// PassphraseEnv overrides the interactive keystore passphrase prompt.
const PassphraseEnv = "ACCORD_KEYSTORE_PASSPHRASE"

// PassphraseFunc supplies the keystore passphrase.
type PassphraseFunc func() (string, error)

// TerminalPassphrase reads the passphrase from PassphraseEnv, then from the
// terminal. Without either, keys are stored unsealed.
func TerminalPassphrase(w io.Writer, logger *slog.Logger) PassphraseFunc {
	return func() (string, error) {
		if p, ok := os.LookupEnv(PassphraseEnv); ok {
			return p, nil
		}
		p, err := cliui.PromptSecret(w, "Keystore passphrase: ")
		if errors.Is(err, cliui.ErrNoTerminal) {
			logger.Warn("no keystore passphrase available, keys are stored unsealed", "env", PassphraseEnv)
			return "", nil
		}
		return p, err
	}
}

// lazyKeys opens the file keystore on first use so read-only commands never
// ask for a passphrase.
type lazyKeys struct {
	once sync.Once
	open func() (keystore.KeyStore, error)
	ks   keystore.KeyStore
	err  error
}

func (l *lazyKeys) get() (keystore.KeyStore, error) {
	l.once.Do(func() { l.ks, l.err = l.open() })
	return l.ks, l.err
}

func (l *lazyKeys) Put(ctx context.Context, subject, keyID string, kp *signing.KeyPair) error {
	ks, err := l.get()
	if err != nil {
		return err
	}
	return ks.Put(ctx, subject, keyID, kp)
}

func (l *lazyKeys) Get(ctx context.Context, subject, publicKey string) (*signing.KeyPair, error) {
	ks, err := l.get()
	if err != nil {
		return nil, err
	}
	return ks.Get(ctx, subject, publicKey)
}

func (l *lazyKeys) Has(ctx context.Context, subject, publicKey string) (bool, error) {
	ks, err := l.get()
	if err != nil {
		return false, err
	}
	return ks.Has(ctx, subject, publicKey)
}
