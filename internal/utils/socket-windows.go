//go:build windows

package utils

import (
	"syscall"

	"github.com/rs/zerolog/log"
)

func setSocketOptions(fd uintptr) {
	handle := syscall.Handle(fd)
	if err := syscall.SetsockoptInt(handle, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		log.Debug().Str("op", "utils/socket").Err(err).Msg("TCP_NODELAY failed")
	}
	syscall.SetsockoptInt(handle, syscall.SOL_SOCKET, syscall.SO_RCVBUF, SocketBufferSize)
	syscall.SetsockoptInt(handle, syscall.SOL_SOCKET, syscall.SO_SNDBUF, SocketBufferSize)
}
