// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort returns empty reads before delivering its data.
type fakePort struct {
	serial.Port
	reads [][]byte
}

func (sf *fakePort) Read(p []byte) (int, error) {
	if len(sf.reads) == 0 {
		return 0, nil
	}
	n := copy(p, sf.reads[0])
	sf.reads = sf.reads[1:]
	return n, nil
}

func (sf *fakePort) Close() error { return nil }

func TestSerialPortSkipsEmptyReads(t *testing.T) {
	sp := &serialPort{Port: &fakePort{reads: [][]byte{nil, nil, {0x05, 0x64}}}}
	buf := make([]byte, 8)
	n, err := sp.Read(buf)
	if err != nil || n != 2 || buf[0] != 0x05 {
		t.Fatalf("Read() = %d, %v [% X]", n, err, buf[:n])
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := sp.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after Close err=%v, want EOF", err)
	}
}

func listenerConfig(t *testing.T, addr net.Addr) NetworkConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return NetworkConfig{Host: host, Port: p, DialTimeout: time.Second}
}

func TestConnectTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	s, err := NewSession(NewOption().SetNetworkConfig(listenerConfig(t, ln.Addr())))
	if err != nil {
		t.Fatal(err)
	}
	conn, err := s.connect(context.Background())
	if err != nil {
		t.Fatalf("connect() err=%v", err)
	}
	defer conn.Close()
	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not accept")
	}
}

func TestConnectRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	nc := listenerConfig(t, ln.Addr())
	ln.Close()

	o := NewOption().
		SetNetworkConfig(nc).
		SetReconnectRetries(2).
		SetReconnectInterval(10 * time.Millisecond)
	s, err := NewSession(o)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := s.connect(context.Background()); !errors.Is(err, ErrConnect) {
		t.Fatalf("connect() err=%v, want ErrConnect", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("no pause between attempts")
	}
	if err := s.Init(context.Background()); !errors.Is(err, ErrConnect) {
		t.Errorf("Init() err=%v, want ErrConnect", err)
	}
	if err := s.Init(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Init() err=%v, want ErrAlreadyStarted", err)
	}
}

func TestConnectInvalidEndpoint(t *testing.T) {
	s, err := NewSession(NewOption().SetSerialConfig(SerialConfig{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.connect(context.Background()); err == nil {
		t.Error("connect() without serial address succeeded")
	}
}
