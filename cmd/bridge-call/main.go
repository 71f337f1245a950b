// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// bridge-call sends one command to a running bridge server and prints
// the response as JSON. It is the debugging companion to hostbridged:
//
//	bridge-call ping
//	bridge-call create_node node_type=geo node_name=box
//	bridge-call set_parameter node_path=/obj/box parameter=tx value=1.5
//	bridge-call get_node_info node_path=/obj/box
//
// Parameter values are parsed as JSON where possible (numbers, bools,
// lists, mappings) and fall back to plain strings, so quoting is only
// needed for structured values.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/polyfactory/hostbridge/bridge"
	"github.com/polyfactory/hostbridge/lib/codec"
	"github.com/polyfactory/hostbridge/lib/process"
	"github.com/polyfactory/hostbridge/lib/version"
)

func main() {
	host := pflag.String("host", "127.0.0.1", "bridge server address")
	port := pflag.Int("port", 0, "bridge server port (0 scans the default range)")
	timeout := pflag.Duration("timeout", 30*time.Second, "overall command timeout")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: bridge-call [flags] <command> [key=value ...]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	payload, err := parseParams(args[1:])
	if err != nil {
		process.Fatal(err)
	}

	response, err := call(*host, *port, *timeout, args[0], payload)
	if err != nil {
		process.Fatal(err)
	}

	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		process.Fatal(err)
	}
	fmt.Println(string(output))

	if response["success"] != true {
		os.Exit(1)
	}
}

// parseParams converts key=value arguments into a command payload.
// Values parse as JSON first so numbers and structures come through
// typed; anything unparseable is a string.
func parseParams(args []string) (map[string]any, error) {
	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		payload[key] = value
	}
	return payload, nil
}

// call connects, sends the command, and returns the response envelope.
// Broadcast events arriving before the response are skipped.
func call(host string, port int, timeout time.Duration, kind string, payload map[string]any) (map[string]any, error) {
	conn, err := dial(host, port, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	request, err := codec.Marshal(bridge.Request{Type: kind, ID: "bridge-call", Data: payload})
	if err != nil {
		return nil, err
	}
	writer := bridge.FrameWriter{}
	if err := writer.WriteFrame(conn, request); err != nil {
		return nil, fmt.Errorf("sending %s: %w", kind, err)
	}

	for {
		frame, err := bridge.ReadFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		var envelope map[string]any
		if err := codec.Unmarshal(frame, &envelope); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		if envelope["type"] == "event" {
			continue
		}
		return envelope, nil
	}
}

// dial connects to the given port, or scans the default fallback range
// when port is 0 — mirroring the server's own port selection.
func dial(host string, port int, timeout time.Duration) (net.Conn, error) {
	if port != 0 {
		return net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	}

	var lastErr error
	for candidate := 9876; candidate < 9881; candidate++ {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(candidate)), timeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no bridge server on %s ports 9876-9880: %w", host, lastErr)
}
