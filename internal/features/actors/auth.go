// auth.go проверяет ключ админ-API по хешу Argon2id
// и ограничивает перебор: 5 неудачных попыток за час с одного адреса.
package actors

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/cashier/internal/common"
)

const (
	maxFailedAttempts = 5
	attemptWindow     = time.Hour
)

// KeyVerifier проверяет ключи админ-API.
type KeyVerifier struct {
	encodedHash string

	mu       sync.Mutex
	failures map[string][]time.Time // адрес → время неудачных попыток
}

// NewKeyVerifier создаёт проверяющего по хешу из ADMIN_API_KEY_HASH.
func NewKeyVerifier(encodedHash string) *KeyVerifier {
	return &KeyVerifier{
		encodedHash: encodedHash,
		failures:    make(map[string][]time.Time),
	}
}

// Verify проверяет ключ. remote, адрес клиента для учёта попыток.
func (v *KeyVerifier) Verify(remote, key string) error {
	if v.blocked(remote) {
		return fmt.Errorf("%w: слишком много попыток, подождите час", common.ErrPermissionDenied)
	}

	if key == "" || !VerifyArgon2id(key, v.encodedHash) {
		v.fail(remote)
		return fmt.Errorf("%w: неверный ключ", common.ErrPermissionDenied)
	}
	return nil
}

func (v *KeyVerifier) blocked(remote string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := time.Now().Add(-attemptWindow)
	var recent []time.Time
	for _, t := range v.failures[remote] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(v.failures, remote)
	} else {
		v.failures[remote] = recent
	}
	return len(recent) >= maxFailedAttempts
}

func (v *KeyVerifier) fail(remote string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[remote] = append(v.failures[remote], time.Now())
	log.WithField("remote", remote).Warn("Неверный ключ админ-API")
}

// VerifyArgon2id проверяет секрет по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func VerifyArgon2id(secret, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(expected)))

	// Сравниваем в постоянном времени
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// HashArgon2id кодирует секрет в формат, который понимает VerifyArgon2id.
func HashArgon2id(secret string, salt []byte) string {
	const (
		memory      uint32 = 64 * 1024
		iterations  uint32 = 3
		parallelism uint8  = 2
		keyLength   uint32 = 32
	)
	hash := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, keyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}
