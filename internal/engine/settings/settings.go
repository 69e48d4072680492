// Package settings keeps operator settings in the store's key/value table.
// Every value is sealed with the store keyring. Only the names listed in
// Known can be set, and each value is checked before it is written.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"filippo.io/age"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

const keyPrefix = "settings/"

// Setting names.
const (
	// BackupChannel is a chat every new backup is published to.
	BackupChannel = "backup.channel"
	// BackupRecipients are comma separated age public keys that replace
	// the configured backup recipients.
	BackupRecipients = "backup.recipients"
	// BackupKeep replaces the configured number of backups kept.
	BackupKeep = "backup.keep"
)

var validators = map[string]func(string) error{
	BackupChannel:    validateChannel,
	BackupRecipients: validateRecipients,
	BackupKeep:       validateKeep,
}

// Known reports whether name is a setting.
func Known(name string) bool {
	_, ok := validators[name]
	return ok
}

// KV is the part of the encrypted store settings live in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, sensitive bool) error
	Query(ctx context.Context, prefix string) ([]*models.Record, error)
	Delete(ctx context.Context, key string) error
}

type Settings struct {
	kv KV
}

func New(kv KV) *Settings {
	return &Settings{kv: kv}
}

// Lookup returns the value of name and whether it is set.
func (s *Settings) Lookup(ctx context.Context, name string) (string, bool, error) {
	v, err := s.kv.Get(ctx, keyPrefix+name)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return string(v), true, nil
}

// Set stores value under name. An empty value removes the setting.
func (s *Settings) Set(ctx context.Context, name, value string) error {
	validate, ok := validators[name]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", common.ErrorValidation, name)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return s.kv.Delete(ctx, keyPrefix+name)
	}
	if err := validate(value); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrorValidation, name, err)
	}
	return s.kv.Put(ctx, keyPrefix+name, []byte(value), true)
}

// All returns every stored setting by name.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	recs, err := s.kv.Query(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[strings.TrimPrefix(r.Key, keyPrefix)] = string(r.Value)
	}
	return out, nil
}

// Recipients parses a BackupRecipients value.
func Recipients(value string) ([]age.Recipient, error) {
	var out []age.Recipient
	for _, key := range strings.Split(value, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("no recipient keys")
	}
	return out, nil
}

func validateChannel(v string) error {
	if strings.ContainsAny(v, " \t\n") {
		return errors.New("channel must not contain spaces")
	}
	return nil
}

func validateRecipients(v string) error {
	_, err := Recipients(v)
	return err
}

func validateKeep(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return errors.New("keep must be a positive integer")
	}
	return nil
}
