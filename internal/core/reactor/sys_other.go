//go:build !linux

package reactor

import (
	"net"
	"time"
)

type event struct {
	fd     int
	events uint32
}

type poller struct{}

func newPoller(int) (*poller, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *poller) add(int, uint32) error               { return ErrUnsupportedPlatform }
func (p *poller) modify(int, uint32) error            { return ErrUnsupportedPlatform }
func (p *poller) remove(int) error                    { return ErrUnsupportedPlatform }
func (p *poller) wait(time.Duration) ([]event, error) { return nil, ErrUnsupportedPlatform }
func (p *poller) wakeup() error                       { return ErrUnsupportedPlatform }
func (p *poller) close() error                        { return nil }

func interest(bool, bool) uint32 { return 0 }
func isReadable(uint32) bool     { return false }
func isWritable(uint32) bool     { return false }
func isHangup(uint32) bool       { return false }
func threadID() int              { return -1 }
func setNonblock(int) error      { return ErrUnsupportedPlatform }

func readFD(int, []byte) (int, error)  { return 0, ErrUnsupportedPlatform }
func writeFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }
func closeFD(int) error                { return ErrUnsupportedPlatform }
func isWouldBlock(error) bool          { return false }

// DetachFD 当前平台不支持
func DetachFD(net.Conn) (int, error) {
	return -1, ErrUnsupportedPlatform
}
