package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps simulated enclave seeds on the local filesystem.
//
// Layout:
//
//	<dir>/<name>/root.key
//	<dir>/<name>/roles/<role>.key
//
// Each file holds a hex-encoded 32-byte seed. The signature scheme is chosen
// when a signer is opened, so one seed can back any Scheme.
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Name  string
	Roles []string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".walmarket", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func (ks *KeyStore) rolePath(name, role string) string {
	return filepath.Join(ks.Directory, name, "roles", role+".key")
}

func checkIdent(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", c, kind)
	}
	return nil
}

func CheckKeyName(name string) error { return checkIdent("key name", name) }

func CheckRole(role string) error { return checkIdent("role", role) }

// ParseSeedHex accepts a 32-byte seed with or without a 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

func writeSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return f.Close()
}

func readSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

// InitRoot stores seed as the root key of name and returns the signer for scheme.
func (ks *KeyStore) InitRoot(name string, scheme Scheme, seed []byte, overwrite bool) (Signer, string, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, "", err
	}
	signer, err := NewSigner(scheme, seed)
	if err != nil {
		return nil, "", err
	}
	path := ks.rootPath(name)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return nil, "", err
	}
	return signer, path, nil
}

// DeriveRole derives and stores a role seed under name.
func (ks *KeyStore) DeriveRole(name, role string, scheme Scheme, overwrite bool) (Signer, string, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, "", err
	}
	root, err := readSeed(ks.rootPath(name))
	if err != nil {
		return nil, "", err
	}
	seed, err := DeriveRoleSeed(root, role)
	if err != nil {
		return nil, "", err
	}
	signer, err := NewSigner(scheme, seed)
	if err != nil {
		return nil, "", err
	}
	path := ks.rolePath(name, role)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return nil, "", err
	}
	return signer, path, nil
}

// Open returns the signer stored under name (and role, if non-empty).
func (ks *KeyStore) Open(name, role string, scheme Scheme) (Signer, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	path := ks.rootPath(name)
	if role != "" {
		if err := CheckRole(role); err != nil {
			return nil, err
		}
		path = ks.rolePath(name, role)
	}
	seed, err := readSeed(path)
	if err != nil {
		return nil, err
	}
	return NewSigner(scheme, seed)
}

// LoadSigner resolves a signer from, in order: an explicit seed, a key file,
// or a stored key name.
func (ks *KeyStore) LoadSigner(scheme Scheme, seedHex, keyFile, name, role string) (Signer, error) {
	switch {
	case seedHex != "":
		seed, err := ParseSeedHex(seedHex)
		if err != nil {
			return nil, err
		}
		return NewSigner(scheme, seed)
	case keyFile != "":
		seed, err := readSeed(keyFile)
		if err != nil {
			return nil, err
		}
		return NewSigner(scheme, seed)
	case name != "":
		return ks.Open(name, role, scheme)
	}
	return nil, errors.New("no signer provided")
}

func (ks *KeyStore) List() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []KeyEntry
	for _, name := range names {
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, name, "roles"))
		var roles []string
		if rerr == nil {
			for _, re := range roleEntries {
				if !re.IsDir() && strings.HasSuffix(re.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(re.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		out = append(out, KeyEntry{Name: name, Roles: roles})
	}
	return out, nil
}
