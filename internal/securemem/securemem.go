// Package securemem keeps key material in memguard-protected memory so that it
// does not end up in swap, core dumps or the garbage-collected heap longer
// than needed.
package securemem

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed Buffer is accessed.
var ErrDestroyed = errors.New("securemem: buffer destroyed")

// Buffer holds secret bytes in a locked, guarded allocation.
type Buffer struct {
	mu  sync.Mutex
	buf *memguard.LockedBuffer
}

// NewBuffer moves data into protected memory. memguard wipes data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{buf: memguard.NewBufferFromBytes(data)}
}

// NewRandom returns a buffer filled with size bytes from the system CSPRNG.
func NewRandom(size int) *Buffer {
	return &Buffer{buf: memguard.NewBufferRandom(size)}
}

// Len returns the number of secret bytes, or 0 after Destroy.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf == nil {
		return 0
	}
	return b.buf.Size()
}

// WithBytes calls fn with a temporary copy of the secret. The copy is wiped
// when fn returns; fn must not retain it.
func (b *Buffer) WithBytes(fn func([]byte) error) error {
	if b == nil {
		return ErrDestroyed
	}
	b.mu.Lock()
	if b.buf == nil {
		b.mu.Unlock()
		return ErrDestroyed
	}
	tmp := make([]byte, b.buf.Size())
	copy(tmp, b.buf.Bytes())
	b.mu.Unlock()

	defer memguard.WipeBytes(tmp)
	return fn(tmp)
}

// Equal compares the secret with other in constant time.
func (b *Buffer) Equal(other []byte) bool {
	equal := false
	_ = b.WithBytes(func(secret []byte) error {
		equal = subtle.ConstantTimeCompare(secret, other) == 1
		return nil
	})
	return equal
}

// Destroy wipes and frees the buffer. Calling it more than once is a no-op.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf != nil {
		b.buf.Destroy()
		b.buf = nil
	}
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf == nil
}

// Wipe zeroes a plain byte slice.
func Wipe(data []byte) {
	memguard.WipeBytes(data)
}

// Purge destroys every live memguard buffer. Call it once on process exit.
func Purge() {
	memguard.Purge()
}
