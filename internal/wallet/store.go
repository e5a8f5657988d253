package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/mordris/ledgerwatch/internal/notify"
	"github.com/mordris/ledgerwatch/pkg/errs"
)

// Record keys in the local store.
const (
	keysRecord       = "blockchainUserKeys"
	onboardingRecord = "hasSeenBlockchainInfoModal_v2"
)

// KeySource produces new key pairs and grants the welcome bonus.
type KeySource interface {
	GenerateKeys(ctx context.Context) (KeyPair, error)
	RequestBonus(ctx context.Context, publicKey string) (string, error)
}

// Store owns the active identity and its durable copy.
// The identity is only ever replaced as a whole, by Load or Generate.
type Store struct {
	db       *leveldb.DB
	notifier notify.Notifier

	mu      sync.RWMutex
	current KeyPair

	bonus sync.WaitGroup
}

// Open opens (or creates) the LevelDB store at path.
func Open(path string, notifier notify.Notifier) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open wallet store %s: %w", path, err)
	}
	return newStore(db, notifier), nil
}

// OpenMemory opens a store that lives only for the process lifetime.
func OpenMemory(notifier notify.Notifier) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory wallet store: %w", err)
	}
	return newStore(db, notifier), nil
}

func newStore(db *leveldb.DB, notifier notify.Notifier) *Store {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Store{db: db, notifier: notifier}
}

// Close waits for pending bonus requests and closes the database.
func (s *Store) Close() error {
	s.bonus.Wait()
	return s.db.Close()
}

// Current returns the active key pair, or false when there is none.
func (s *Store) Current() (KeyPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Valid()
}

func (s *Store) set(kp KeyPair) {
	s.mu.Lock()
	s.current = kp
	s.mu.Unlock()
}

// Load restores the key pair from storage.
//
// A missing record leaves the identity absent. A corrupt or partial record is
// deleted, the identity is reset to absent, the user is told, and an
// InvalidStoredKeys error is returned.
func (s *Store) Load() (KeyPair, error) {
	data, err := s.db.Get([]byte(keysRecord), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		s.set(KeyPair{})
		return KeyPair{}, nil
	}
	if err != nil {
		return KeyPair{}, fmt.Errorf("read stored keys: %w", err)
	}

	kp, err := decodeKeyPair(data)
	if err != nil {
		notice := "Stored key data was invalid. Please generate new keys."
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			notice = "Could not load stored keys. Please generate new ones."
		}
		slog.Warn("stored keys rejected, clearing", "err", err)
		if delErr := s.db.Delete([]byte(keysRecord), nil); delErr != nil {
			slog.Error("failed to clear stored keys", "err", delErr)
		}
		s.set(KeyPair{})
		s.notifier.Notify(notice, true)
		return KeyPair{}, errs.Wrap(errs.InvalidStoredKeys, "load-keys", err)
	}

	s.set(kp)
	return kp, nil
}

func (s *Store) put(kp KeyPair) error {
	data, err := encodeKeyPair(kp)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(keysRecord), data, nil)
}

// Generate obtains a new key pair from src, persists it, makes it active and
// requests the welcome bonus for it in the background.
//
// If persisting fails the new pair is still made active and returned together
// with the error, so the caller can show it to the user.
func (s *Store) Generate(ctx context.Context, src KeySource) (KeyPair, error) {
	kp, err := src.GenerateKeys(ctx)
	if err == nil && !kp.Valid() {
		err = errs.New(errs.TransportError, "generate-keys", "Unknown error from API")
	}
	if err != nil {
		s.notifier.Notify("Failed to generate keys: "+errs.Message(err), true)
		return KeyPair{}, err
	}

	persistErr := s.put(kp)
	s.set(kp)
	if persistErr != nil {
		slog.Error("failed to persist generated keys", "err", persistErr)
		s.notifier.Notify("Keys generated but could not be stored locally: "+persistErr.Error(), true)
	} else {
		s.notifier.Notify("New key pair generated and stored locally!", false)
	}

	s.bonus.Add(1)
	go func() {
		defer s.bonus.Done()
		msg, err := src.RequestBonus(context.WithoutCancel(ctx), kp.PublicKey)
		if err != nil {
			slog.Warn("welcome bonus request failed", "err", err)
			return
		}
		if msg == "" {
			msg = "Welcome bonus processing initiated!"
		}
		s.notifier.Notify(msg, false)
	}()

	if persistErr != nil {
		return kp, fmt.Errorf("persist keys: %w", persistErr)
	}
	return kp, nil
}

// WaitBonus blocks until every background bonus request has finished.
func (s *Store) WaitBonus() {
	s.bonus.Wait()
}

// OnboardingSeen reports whether the onboarding notice was already dismissed.
func (s *Store) OnboardingSeen() (bool, error) {
	ok, err := s.db.Has([]byte(onboardingRecord), nil)
	if err != nil {
		return false, fmt.Errorf("read onboarding flag: %w", err)
	}
	return ok, nil
}

// MarkOnboardingSeen records that the onboarding notice was dismissed.
func (s *Store) MarkOnboardingSeen() error {
	return s.db.Put([]byte(onboardingRecord), []byte("true"), nil)
}
