// Package keyreg implements the Key Registry: the master's own RSA
// keypair bootstrap and the persistent map of one accepted public key per
// minion-id.
package keyreg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/pkg/dbutil"
	"github.com/sysinspect/sysinspect/pkg/fsutil"
	"github.com/sysinspect/sysinspect/pkg/pemutil"
)

const keyPrefix = "key/"

// entry is the persisted record for one registered minion key.
type entry struct {
	RemoteAddr   string `json:"remote_addr"`
	PublicKeyPEM []byte `json:"public_key_pem"`
	Fingerprint  string `json:"fingerprint"`
	RegisteredAt int64  `json:"registered_at_unix"`
}

// Registry stores one public key per minion-id and the master's own
// keypair, generated on first start and persisted under root.
type Registry struct {
	lg   *zap.Logger
	db   *dbutil.DB
	pair *pemutil.RsaPair
}

// Open loads (or bootstraps) the master keypair under root/master.{pem,pub}
// and opens the badger-backed key store under root/keys.
func Open(root string, lg *zap.Logger) (*Registry, error) {
	if err := fsutil.LoadDir(root); err != nil {
		return nil, fmt.Errorf("create key registry dir: %w", err)
	}

	pair, err := loadOrGenerateMasterPair(root, lg)
	if err != nil {
		return nil, err
	}

	db, err := dbutil.OpenDB(&dbutil.Options{Dir: filepath.Join(root, "keys"), Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}

	return &Registry{lg: lg, db: db, pair: pair}, nil
}

func loadOrGenerateMasterPair(root string, lg *zap.Logger) (*pemutil.RsaPair, error) {
	pemPath := filepath.Join(root, "master.pem")
	pubPath := filepath.Join(root, "master.pub")

	privBytes, errPriv := os.ReadFile(pemPath)
	pubBytes, errPub := os.ReadFile(pubPath)

	if errPriv == nil && errPub == nil {
		pair := &pemutil.RsaPair{Private: privBytes, Public: pubBytes}
		if err := pair.Validate(); err != nil {
			return nil, fmt.Errorf("validate master rsa pair: %w", err)
		}
		return pair, nil
	}

	lg.Info("generating master rsa pair", zap.String("private", pemPath), zap.String("public", pubPath))
	pair, err := pemutil.GenerateRSA(2048, "SYSINSPECT")
	if err != nil {
		return nil, fmt.Errorf("generate master rsa pair: %w", err)
	}
	if err := fsutil.AtomicWrite(pemPath, pair.Private, 0600); err != nil {
		return nil, fmt.Errorf("save master private key: %w", err)
	}
	if err := fsutil.AtomicWrite(pubPath, pair.Public, 0600); err != nil {
		return nil, fmt.Errorf("save master public key: %w", err)
	}
	return pair, nil
}

// MasterPublicKeyPEM returns the PEM-encoded master public key handed to
// minions during registration.
func (r *Registry) MasterPublicKeyPEM() string { return string(r.pair.Public) }

// MasterPair returns the master's own keypair, used by the transport layer
// to decrypt inbound registration payloads.
func (r *Registry) MasterPair() *pemutil.RsaPair { return r.pair }

// IsRegistered reports whether minionID already has an accepted key.
func (r *Registry) IsRegistered(minionID string) (bool, error) {
	ok, err := r.db.Exists([]byte(keyPrefix + minionID))
	if err != nil {
		return false, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	return ok, nil
}

// Register accepts pem as minionID's key, provided no key is registered for
// that id yet. Returns a CodeAuth error if the id is already registered;
// re-keying requires an explicit administrative removal (out of scope).
func (r *Registry) Register(minionID, remoteAddr string, pem []byte) error {
	already, err := r.IsRegistered(minionID)
	if err != nil {
		return err
	}
	if already {
		return apierrors.NewAuthf("minion %q already registered", minionID)
	}

	fp, err := pemutil.Fingerprint(pem)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeAuth, err)
	}

	e := entry{
		RemoteAddr:   remoteAddr,
		PublicKeyPEM: pem,
		Fingerprint:  fp,
		RegisteredAt: time.Now().Unix(),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, err)
	}
	if err := r.db.Set([]byte(keyPrefix+minionID), data); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	r.lg.Info("registered minion key", zap.String("minion_id", minionID), zap.String("fingerprint", fp))
	return nil
}

// PublicKeyPEM returns the registered public key for minionID, or a
// CodeNotFound error.
func (r *Registry) PublicKeyPEM(minionID string) ([]byte, error) {
	data, err := r.db.Get([]byte(keyPrefix + minionID))
	if err != nil {
		return nil, apierrors.NewNotFound(fmt.Sprintf("minion %q has no registered key", minionID))
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInternal, err)
	}
	return e.PublicKeyPEM, nil
}

// Close releases the underlying key store.
func (r *Registry) Close() error { return r.db.Close() }
