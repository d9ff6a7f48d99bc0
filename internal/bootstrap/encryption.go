package bootstrap

import (
	"log/slog"

	"github.com/devion-industries/maintainer-brief/internal/data/cryptoutil"
)

// CreateEncryptor creates an AES-GCM encryptor from the provided key. An empty or unusable key
// yields the plain encryptor, which only reads values stored with the "plain:" prefix.
//
//nolint:ireturn // Returning interface is intentional for encryptor abstraction
func CreateEncryptor(key string, logger *slog.Logger) cryptoutil.Encryptor {
	if key == "" {
		if logger != nil {
			logger.Warn("encryption key is empty, using plain encryptor")
		}
		return cryptoutil.PlainEncryptor{}
	}

	keyBytes, err := cryptoutil.KeyFromString(key)
	if err == nil {
		var enc *cryptoutil.AESGCMEncryptor
		if enc, err = cryptoutil.NewAESGCMEncryptor(keyBytes); err == nil {
			return enc
		}
	}
	if logger != nil {
		logger.Warn("failed to create encryptor, using plain encryptor", "error", err)
	}
	return cryptoutil.PlainEncryptor{}
}
