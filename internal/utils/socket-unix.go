//go:build unix

package utils

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// setSocketOptions disables Nagle and enlarges both socket buffers for
// high thread mode connections.
func setSocketOptions(fd uintptr) {
	sock := int(fd)
	for _, opt := range []struct {
		level, name, value int
	}{
		{unix.IPPROTO_TCP, unix.TCP_NODELAY, 1},
		{unix.SOL_SOCKET, unix.SO_RCVBUF, SocketBufferSize},
		{unix.SOL_SOCKET, unix.SO_SNDBUF, SocketBufferSize},
	} {
		if err := unix.SetsockoptInt(sock, opt.level, opt.name, opt.value); err != nil {
			log.Debug().Str("op", "utils/socket").Err(err).Int("option", opt.name).Msg("setsockopt failed")
		}
	}
}
