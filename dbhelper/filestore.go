package dbhelper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/secureapp/apiv1/models"
)

// FileStore is a MemoryStore whose contents are rewritten to a JSON file
// after every mutation. The file is replaced atomically, so a crash leaves
// either the previous or the new snapshot on disk.
type FileStore struct {
	*MemoryStore
	path      string
	persistMu sync.Mutex
}

type snapshot struct {
	Users         []models.User          `json:"users"`
	LoginAttempts []models.LoginAttempts `json:"loginAttempts"`
	TotpSecrets   []models.TotpSecret    `json:"totpSecrets"`
}

// OpenFileStore loads path if it exists. A flat {"email": "BASE32"} object,
// as written by earlier versions of the 2FA server, is imported as
// not-yet-enabled TOTP secrets.
func OpenFileStore(path string) (*FileStore, error) {
	fileStore := &FileStore{MemoryStore: NewMemoryStore(), path: path}
	fileStore.afterWrite = fileStore.save

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileStore, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(raw) == 0 {
		return fileStore, nil
	}
	if err := fileStore.load(raw); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", path, err)
	}
	return fileStore, nil
}

func (f *FileStore) load(raw []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return err
	}
	_, hasUsers := probe["users"]
	_, hasAttempts := probe["loginAttempts"]
	_, hasSecrets := probe["totpSecrets"]
	if !hasUsers && !hasAttempts && !hasSecrets && len(probe) > 0 {
		return f.loadLegacySecrets(raw)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	for _, u := range snap.Users {
		f.users[u.Email] = u
		f.bumpID(u.ID)
	}
	for _, a := range snap.LoginAttempts {
		f.attempts[a.Email] = a
		f.bumpID(a.ID)
	}
	for _, s := range snap.TotpSecrets {
		f.secrets[s.Email] = s
		f.bumpID(s.ID)
	}
	return nil
}

func (f *FileStore) loadLegacySecrets(raw []byte) error {
	var legacy map[string]string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return err
	}
	for email, secret := range legacy {
		record := models.TotpSecret{Email: email, Secret: secret}
		f.stamp(&record.Model)
		f.secrets[email] = record
	}
	return nil
}

func (f *FileStore) bumpID(id uint) {
	if id > f.nextID {
		f.nextID = id
	}
}

func (f *FileStore) save() error {
	f.persistMu.Lock()
	defer f.persistMu.Unlock()

	data, err := json.MarshalIndent(f.snapshot(), "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) snapshot() snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := snapshot{
		Users:         make([]models.User, 0, len(f.users)),
		LoginAttempts: make([]models.LoginAttempts, 0, len(f.attempts)),
		TotpSecrets:   make([]models.TotpSecret, 0, len(f.secrets)),
	}
	for _, u := range f.users {
		snap.Users = append(snap.Users, u)
	}
	for _, a := range f.attempts {
		snap.LoginAttempts = append(snap.LoginAttempts, a)
	}
	for _, s := range f.secrets {
		snap.TotpSecrets = append(snap.TotpSecrets, s)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })
	sort.Slice(snap.LoginAttempts, func(i, j int) bool { return snap.LoginAttempts[i].ID < snap.LoginAttempts[j].ID })
	sort.Slice(snap.TotpSecrets, func(i, j int) bool { return snap.TotpSecrets[i].ID < snap.TotpSecrets[j].ID })
	return snap
}
