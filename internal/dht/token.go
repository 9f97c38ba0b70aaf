package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"net/netip"
	"sync"
	"time"

	"github.com/dep2p/go-kdht/pkg/types"
)

const tokenSecretSize = 20

// tokenSecrets 两代 token 密钥
//
// token = SHA1(secret ++ ip ++ port ++ target)，不需要保存。
// 当前与上一代密钥签发的 token 都被接受，因此 token 在一次轮换后仍然有效。
type tokenSecrets struct {
	mu       sync.RWMutex
	current  [tokenSecretSize]byte
	previous [tokenSecretSize]byte
	rotated  time.Time
	interval time.Duration
}

func newTokenSecrets(now time.Time, interval time.Duration) *tokenSecrets {
	s := &tokenSecrets{rotated: now, interval: interval}
	randomSecret(&s.current)
	randomSecret(&s.previous)
	return s
}

func randomSecret(dst *[tokenSecretSize]byte) {
	if _, err := rand.Read(dst[:]); err != nil {
		panic("dht: failed to read random secret: " + err.Error())
	}
}

// Generate 为地址与目标签发 token
func (s *tokenSecrets) Generate(addr netip.AddrPort, target types.ID) []byte {
	s.mu.RLock()
	secret := s.current
	s.mu.RUnlock()
	return computeToken(secret[:], addr, target)
}

// Verify 用当前或上一代密钥校验 token
func (s *tokenSecrets) Verify(token []byte, addr netip.AddrPort, target types.ID) bool {
	s.mu.RLock()
	current, previous := s.current, s.previous
	s.mu.RUnlock()

	if subtle.ConstantTimeCompare(token, computeToken(current[:], addr, target)) == 1 {
		return true
	}
	return subtle.ConstantTimeCompare(token, computeToken(previous[:], addr, target)) == 1
}

// Rotate 到期时轮换密钥，返回是否轮换
func (s *tokenSecrets) Rotate(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.rotated) < s.interval {
		return false
	}
	s.previous = s.current
	randomSecret(&s.current)
	s.rotated = now
	return true
}

func computeToken(secret []byte, addr netip.AddrPort, target types.ID) []byte {
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], addr.Port())

	h := sha1.New()
	h.Write(secret)
	h.Write(addr.Addr().Unmap().AsSlice())
	h.Write(port[:])
	h.Write(target[:])
	return h.Sum(nil)
}
