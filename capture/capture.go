// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package capture records link frames to a pcap file. Every frame is
// wrapped in a synthetic Ethernet/IPv4/TCP packet on port 20000 so that
// packet analysers apply their DNP3 dissector.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Port is the TCP port written as the outstation side of every packet.
const Port = 20000

const snapLen = 65535

var (
	masterMAC     = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	outstationMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	masterIP      = net.IP{10, 0, 0, 1}
	outstationIP  = net.IP{10, 0, 0, 2}
)

const masterPort = 49152

// ErrClosed is returned by WriteFrame after Close.
var ErrClosed = errors.New("capture writer closed")

// Writer is safe for concurrent use by the receive and send loops.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	w      *pcapgo.Writer
	closed bool

	// next TCP sequence numbers of each direction
	txSeq uint32
	rxSeq uint32
	count int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{out: w, w: pw, txSeq: 1, rxSeq: 1}, nil
}

// WriteFrame records one link frame. rx is true for frames received from
// the outstation.
func (sf *Writer) WriteFrame(raw []byte, rx bool, ts time.Time) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return ErrClosed
	}

	eth := &layers.Ethernet{
		SrcMAC:       masterMAC,
		DstMAC:       outstationMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    masterIP,
		DstIP:    outstationIP,
	}
	tcp := &layers.TCP{
		SrcPort: masterPort,
		DstPort: Port,
		ACK:     true,
		PSH:     true,
		Window:  snapLen,
		Seq:     sf.txSeq,
		Ack:     sf.rxSeq,
	}
	if rx {
		eth.SrcMAC, eth.DstMAC = eth.DstMAC, eth.SrcMAC
		ip.SrcIP, ip.DstIP = ip.DstIP, ip.SrcIP
		tcp.SrcPort, tcp.DstPort = tcp.DstPort, tcp.SrcPort
		tcp.Seq, tcp.Ack = sf.rxSeq, sf.txSeq
		sf.rxSeq += uint32(len(raw))
	} else {
		sf.txSeq += uint32(len(raw))
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(raw)); err != nil {
		return fmt.Errorf("serialize frame: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	if err := sf.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	sf.count++
	return nil
}

// Count returns the number of frames written.
func (sf *Writer) Count() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.count
}

// Close stops recording and closes the underlying writer when it is an
// io.Closer.
func (sf *Writer) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return nil
	}
	sf.closed = true
	if c, ok := sf.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
