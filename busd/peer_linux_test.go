// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbus-foundation/kbus/lib/testutil"
)

func TestPeerOfReportsConnectingProcess(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "peer.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server := testutil.RequireReceive(t, accepted, 5*time.Second, "accepting the connection")
	if server == nil {
		t.Fatal("Accept failed")
	}
	defer server.Close()

	peer, err := peerOf(server)
	if err != nil {
		t.Fatalf("peerOf: %v", err)
	}
	if int(peer.PID) != os.Getpid() || int(peer.UID) != os.Getuid() {
		t.Errorf("peer = %+v, want pid %d uid %d", peer, os.Getpid(), os.Getuid())
	}
}

func TestPeerOfRejectsNonUnixConnection(t *testing.T) {
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()
	if _, err := peerOf(left); err == nil {
		t.Fatal("peerOf on a pipe succeeded")
	}
}
