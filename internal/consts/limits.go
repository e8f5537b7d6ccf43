package consts

import "time"

// Message limits
const (
	// MaxMessageLength is the largest room or private message text a client will send
	MaxMessageLength = 100 * 1024
	// MaxNickLength is the longest accepted nickname
	MaxNickLength = 64
	// MaxRoomNameLength is the longest accepted room name
	MaxRoomNameLength = 128
)

// Frame limits
const (
	// MaxFrameSize bounds a single frame body (command id + payload).
	// A private message carries base64 ciphertext and a wrapped key, so it
	// needs headroom over MaxMessageLength.
	MaxFrameSize = 1024 * 1024
	// FrameHeaderSize is the length prefix in bytes
	FrameHeaderSize = 4
	// CommandIDSize is the command identifier size in bytes
	CommandIDSize = 2
)

// Buffer sizes
const (
	// SendQueueSize is the per-connection outbound frame queue
	SendQueueSize = 256
	// EventBufferSize is the default subscriber channel buffer
	EventBufferSize = 64
)

// Crypto defaults
const (
	// DefaultKeySize is the RSA modulus size in bits
	DefaultKeySize = 2048
	// MinKeySize is the smallest accepted RSA modulus in bits
	MinKeySize = 1024
	// SymmetricKeySize is the AES key length in bytes
	SymmetricKeySize = 32
)

// Rate limiting
const (
	// DefaultCommandRate is the sustained inbound commands per second per connection
	DefaultCommandRate = 20
	// DefaultCommandBurst is the inbound command burst per connection
	DefaultCommandBurst = 40
)

// Timeouts for network operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second

	// WriteWait is the time allowed to write a frame
	WriteWait = Timeout10Seconds
	// ReadIdle is the time a connection may stay silent before it is dropped
	ReadIdle = Timeout60Seconds
	// PingPeriod must be shorter than ReadIdle
	PingPeriod = (ReadIdle * 9) / 10
	// ShutdownTimeout bounds graceful server shutdown
	ShutdownTimeout = 15 * time.Second
)
