//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// tcgets is the Linux ioctl that reads terminal attributes.
const tcgets = 0x5401

// isTerminal reports whether fd is attached to a terminal. Color output is
// only enabled for real terminals, never for pipes or files.
func isTerminal(fd uintptr) bool {
	var attrs syscall.Termios
	_, _, errno := syscall.Syscall6(
		syscall.SYS_IOCTL, fd, tcgets,
		uintptr(unsafe.Pointer(&attrs)), 0, 0, 0)
	return errno == 0
}
