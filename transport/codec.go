// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// ConnectionOptions configure a connection produced by a codec.
type ConnectionOptions struct {
	// ContainerID is the local container name advertised during negotiation.
	ContainerID string
	// MaxFrameSize is the largest frame the gateway accepts.
	MaxFrameSize uint32
	// RequireAuthentication makes the handshake fail for peers that cannot
	// present credentials.
	RequireAuthentication bool
}

// Codec turns an accepted network connection into a transport connection.
// Implementations own framing, message encoding and the authentication
// handshake; they are linked into the binary and registered by name, like
// database/sql drivers.
type Codec interface {
	Name() string
	NewConnection(conn net.Conn, options ConnectionOptions) (Connection, error)
}

var (
	codecsMu sync.RWMutex
	codecs   = make(map[string]Codec)
)

// RegisterCodec makes a codec available under its name. It panics when the
// name is already taken.
func RegisterCodec(codec Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	if _, dup := codecs[codec.Name()]; dup {
		panic(fmt.Sprintf("transport: codec %q registered twice", codec.Name()))
	}
	codecs[codec.Name()] = codec
}

// GetCodec returns the codec registered under name.
func GetCodec(name string) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	if codec, ok := codecs[name]; ok {
		return codec, nil
	}
	return nil, fmt.Errorf("transport: unknown codec %q (registered: %v)", name, codecNames())
}

func codecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
