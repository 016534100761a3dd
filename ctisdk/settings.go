/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package ctisdk

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// Settings is the persisted user profile: connection triples, login,
// reconnect/keepalive tuning, presence and the last-logout diagnostics
// replayed to the server on the next login. It is a plain JSON file; the
// password, when kept, is stored sealed rather than in clear text.
type Settings struct {
	Address       string `json:"serverhost"`
	Port          int    `json:"serverport"`
	Encrypt       bool   `json:"encryption"`
	BackupAddress string `json:"backup_server_host,omitempty"`
	BackupPort    int    `json:"backup_server_port,omitempty"`
	BackupEncrypt bool   `json:"backup_server_encryption,omitempty"`

	Login    string `json:"userid"`
	LoginOpt string `json:"useridopt,omitempty"`

	// KeepPass controls whether SealedPassword is written at all.
	KeepPass       bool   `json:"keeppass"`
	SealedPassword string `json:"password,omitempty"`

	TryToReconnect       bool   `json:"trytoreconnect"`
	ReconnectIntervalMS  int    `json:"trytoreconnectinterval"`
	KeepaliveIntervalMS  int    `json:"keepaliveinterval"`
	PresenceEnabled      bool   `json:"presence_enabled"`
	Availstate           string `json:"availstate"`
	AgentPhoneNumber     string `json:"agentphonenumber,omitempty"`
	LastLogoutStopper    string `json:"lastlogout_stopper,omitempty"`
	LastLogoutDatetime   string `json:"lastlogout_datetime,omitempty"`

	path string
}

// DefaultSettings returns a profile matching DefaultConfig.
func DefaultSettings() *Settings {
	cfg := DefaultConfig()
	return &Settings{
		Address:             cfg.Address,
		Port:                cfg.Port,
		Encrypt:             cfg.Encrypt,
		BackupPort:          cfg.BackupPort,
		BackupEncrypt:       cfg.BackupEncrypt,
		TryToReconnect:      cfg.TryToReconnect,
		ReconnectIntervalMS: int(cfg.ReconnectInterval / time.Millisecond),
		KeepaliveIntervalMS: int(cfg.KeepaliveInterval / time.Millisecond),
		PresenceEnabled:     cfg.PresenceEnabled,
		Availstate:          cfg.Availstate,
	}
}

// LoadSettings reads the profile from path. A missing file is not an
// error: defaults are returned and the first Save creates the file.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	s.path = path

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ctisdk: read settings: %w", err)
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("ctisdk: settings file is not valid JSON: %w", err)
	}
	return s, nil
}

// Save writes the profile back to its file.
func (s *Settings) Save() error {
	if s.path == "" {
		return errors.New("ctisdk: settings have no backing file")
	}
	if !s.KeepPass {
		s.SealedPassword = ""
	}
	raw, err := json.MarshalIndent(s, "", "\t")
	if err != nil {
		return fmt.Errorf("ctisdk: encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ctisdk: create settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("ctisdk: write settings: %w", err)
	}
	return nil
}

// Apply copies the profile onto a Config, leaving Config fields with no
// settings counterpart untouched.
func (s *Settings) Apply(cfg *Config) {
	cfg.Address = s.Address
	cfg.Port = s.Port
	cfg.Encrypt = s.Encrypt
	cfg.BackupAddress = s.BackupAddress
	cfg.BackupPort = s.BackupPort
	cfg.BackupEncrypt = s.BackupEncrypt
	cfg.Login = s.Login
	if s.LoginOpt != "" {
		cfg.Login = s.Login + "%" + s.LoginOpt
	}
	cfg.TryToReconnect = s.TryToReconnect
	if s.ReconnectIntervalMS > 0 {
		cfg.ReconnectInterval = time.Duration(s.ReconnectIntervalMS) * time.Millisecond
	}
	if s.KeepaliveIntervalMS > 0 {
		cfg.KeepaliveInterval = time.Duration(s.KeepaliveIntervalMS) * time.Millisecond
	}
	cfg.PresenceEnabled = s.PresenceEnabled
	if s.Availstate != "" {
		cfg.Availstate = s.Availstate
	}
	if s.KeepPass && s.SealedPassword != "" {
		if pass, err := OpenPassword(s.SealedPassword); err == nil {
			cfg.Password = pass
		}
	}
}

// SaveLogoutData records why and when the session was stopped, along with
// the presence held at logout. The stored reason is replayed to the server
// in the next login_id for diagnostic purposes.
func (s *Settings) SaveLogoutData(stopper, availstate string, at time.Time) {
	s.LastLogoutStopper = stopper
	s.LastLogoutDatetime = at.Format(time.RFC3339)
	if availstate != "" {
		s.Availstate = availstate
	}
}

// TakeLogoutData returns the stored last-logout diagnostics and clears
// them, so each logout is reported at most once.
func (s *Settings) TakeLogoutData() (stopper, datetime string) {
	stopper, datetime = s.LastLogoutStopper, s.LastLogoutDatetime
	s.LastLogoutStopper, s.LastLogoutDatetime = "", ""
	return stopper, datetime
}

// sealKey derives the fixed profile sealing key. This is reversible
// obfuscation of the settings file, not protection against a local
// attacker; the original client stored an obfuscated password the same way.
func sealKey() []byte {
	sum := sha256.Sum256([]byte("cti-go-sdk/settings-profile-seal/v1"))
	return sum[:]
}

// SealPassword seals a clear-text password into a compact JWE string
// suitable for the settings file.
func SealPassword(password string) (string, error) {
	enc, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: sealKey()}, nil)
	if err != nil {
		return "", fmt.Errorf("ctisdk: init password sealer: %w", err)
	}
	obj, err := enc.Encrypt([]byte(password))
	if err != nil {
		return "", fmt.Errorf("ctisdk: seal password: %w", err)
	}
	return obj.CompactSerialize()
}

// OpenPassword unseals a password previously produced by SealPassword.
func OpenPassword(sealed string) (string, error) {
	obj, err := jose.ParseEncrypted(sealed,
		[]jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return "", fmt.Errorf("ctisdk: parse sealed password: %w", err)
	}
	plain, err := obj.Decrypt(sealKey())
	if err != nil {
		return "", fmt.Errorf("ctisdk: unseal password: %w", err)
	}
	return string(plain), nil
}
