package capture

import (
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// liveSource adapts a pcap handle to Source
type liveSource struct {
	handle *pcap.Handle
}

func (l *liveSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := l.handle.ReadPacketData()
	switch err {
	case pcap.NextErrorTimeoutExpired:
		return nil, ci, ErrReadTimeout
	case pcap.NextErrorNoMorePackets:
		return nil, ci, io.EOF
	}
	return data, ci, err
}

func (l *liveSource) LinkType() layers.LinkType {
	return l.handle.LinkType()
}

func (l *liveSource) Close() {
	l.handle.Close()
}

// LiveOpener opens a live pcap handle with a short read timeout, so the
// capture loop can observe stop requests between frames.
func LiveOpener(p OpenParams) (Source, error) {
	handle, err := pcap.OpenLive(p.Interface, int32(p.SnapLen), p.Promiscuous, p.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open device %s: %v", ErrAttachFailure, p.Interface, err)
	}
	if p.Filter != "" {
		if err := handle.SetBPFFilter(p.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: failed to set filter %q: %v", ErrAttachFailure, p.Filter, err)
		}
	}
	return &liveSource{handle: handle}, nil
}
