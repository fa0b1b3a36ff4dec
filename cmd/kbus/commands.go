// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/kbus-foundation/kbus/bus"
	"github.com/kbus-foundation/kbus/busd"
	"github.com/kbus-foundation/kbus/cmd/kbus/cli"
	"github.com/kbus-foundation/kbus/lib/config"
	"github.com/kbus-foundation/kbus/lib/version"
)

// socketEnvironmentVariable overrides the default daemon socket.
const socketEnvironmentVariable = "KBUS_SOCKET"

// environment is what the commands read and write besides the daemon.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	color  bool
}

// connectionFlags are the flags shared by every command that talks to
// a device.
type connectionFlags struct {
	socketPath string
	device     uint32
}

func (f *connectionFlags) register(flagSet *pflag.FlagSet) {
	socketPath := os.Getenv(socketEnvironmentVariable)
	if socketPath == "" {
		socketPath = config.Default().SocketPath
	}
	flagSet.StringVar(&f.socketPath, "socket", socketPath, "kbusd socket (default $"+socketEnvironmentVariable+")")
	flagSet.Uint32VarP(&f.device, "device", "d", 0, "device number")
}

func (f *connectionFlags) dial(ctx context.Context, mode bus.Mode) (*busd.Client, error) {
	return busd.Dial(ctx, f.socketPath, f.device, mode)
}

// root builds the kbus command tree.
func root(env environment) *cli.Command {
	return &cli.Command{
		Name:        "kbus",
		Description: "Send, request and listen for messages on a KBUS daemon.",
		Subcommands: []*cli.Command{
			sendCommand(env),
			requestCommand(env),
			listenCommand(env),
			findReplierCommand(env),
			newDeviceCommand(env),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(ctx context.Context, args []string) error {
					version.Print(env.stdout, "kbus")
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Follow every message under $.Sensors", Command: "kbus listen '$.Sensors.*'"},
			{Description: "Ask the time service", Command: "kbus request '$.Time.Now'"},
		},
	}
}

// messageData returns the payload given on the command line, or stdin
// when the argument is "-".
func messageData(env environment, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if args[0] == "-" {
		data, err := io.ReadAll(env.stdin)
		if err != nil {
			return nil, fmt.Errorf("reading message data from stdin: %w", err)
		}
		return data, nil
	}
	return []byte(args[0]), nil
}

func sendCommand(env environment) *cli.Command {
	var connection connectionFlags
	var allOrFail, allOrWait bool
	return &cli.Command{
		Name:    "send",
		Summary: "Send an announcement",
		Usage:   "kbus send [flags] <name> [data|-]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			connection.register(flagSet)
			flagSet.BoolVar(&allOrFail, "all-or-fail", false, "fail unless every listener has room")
			flagSet.BoolVar(&allOrWait, "all-or-wait", false, "wait until every listener has room")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: kbus send [flags] <name> [data|-]")
			}
			data, err := messageData(env, args[1:])
			if err != nil {
				return err
			}
			message := bus.NewAnnouncement(args[0], data)
			if allOrFail {
				message.Flags |= bus.AllOrFail
			}
			if allOrWait {
				message.Flags |= bus.AllOrWait
			}

			client, err := connection.dial(ctx, bus.WriteOnly)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := sendRetrying(ctx, client, message)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.stdout, id)
			return nil
		},
	}
}

// sendRetrying sends message, and while an AllOrWait send would block,
// waits for the socket to become writable and tries again.
func sendRetrying(ctx context.Context, client *busd.Client, message bus.Message) (bus.MessageID, error) {
	for {
		id, err := client.Send(ctx, message)
		if !errors.Is(err, bus.ErrWouldBlock) {
			return id, err
		}
		if _, err := client.Wait(ctx, bus.Writable, 0); err != nil {
			return bus.MessageID{}, err
		}
	}
}

func requestCommand(env environment) *cli.Command {
	var connection connectionFlags
	var timeout time.Duration
	return &cli.Command{
		Name:    "request",
		Summary: "Send a request and print the reply",
		Usage:   "kbus request [flags] <name> [data|-]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("request", pflag.ContinueOnError)
			connection.register(flagSet)
			flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the reply")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: kbus request [flags] <name> [data|-]")
			}
			data, err := messageData(env, args[1:])
			if err != nil {
				return err
			}

			client, err := connection.dial(ctx, bus.ReadWrite)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.Send(ctx, bus.NewRequest(args[0], data))
			if err != nil {
				return err
			}
			reply, err := awaitReply(ctx, client, id, timeout)
			if err != nil {
				return err
			}
			dumper{out: env.stdout, color: env.color}.dump(reply)
			if bus.IsStatus(reply) {
				return &cli.ExitError{Code: 2}
			}
			return nil
		},
	}
}

// awaitReply reads messages until the reply (or status) for id
// arrives. Other messages are discarded.
func awaitReply(ctx context.Context, client *busd.Client, id bus.MessageID, timeout time.Duration) (bus.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return bus.Message{}, fmt.Errorf("no reply to %s within %v", id, timeout)
		}
		ready, err := client.Wait(ctx, bus.Readable, remaining)
		if err != nil {
			return bus.Message{}, err
		}
		if ready == 0 {
			continue
		}
		message, err := client.ReadNextMsg(ctx)
		if errors.Is(err, bus.ErrNothingToRead) {
			continue
		}
		if err != nil {
			return bus.Message{}, err
		}
		if message.InReplyTo == id {
			return message, nil
		}
	}
}

func listenCommand(env environment) *cli.Command {
	var connection connectionFlags
	var replier, onlyOnce, reportBinds bool
	var replyWith string
	var count int
	return &cli.Command{
		Name:    "listen",
		Summary: "Print messages as they arrive",
		Usage:   "kbus listen [flags] <name>...",
		Description: "Bind to each name and print every message received until interrupted.\n" +
			"With --replier the socket answers requests for the names; --reply\n" +
			"sets the data of the automatic reply.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("listen", pflag.ContinueOnError)
			connection.register(flagSet)
			flagSet.BoolVar(&replier, "replier", false, "bind as the replier for the names")
			flagSet.StringVar(&replyWith, "reply", "", "answer each request with this data (implies --replier)")
			flagSet.BoolVar(&onlyOnce, "only-once", false, "receive one copy of messages matching several names")
			flagSet.BoolVar(&reportBinds, "report-binds", false, "enable and print replier bind events")
			flagSet.IntVarP(&count, "count", "n", 0, "exit after this many messages (0 means no limit)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 && !reportBinds {
				return fmt.Errorf("usage: kbus listen [flags] <name>...")
			}
			if replyWith != "" {
				replier = true
			}

			client, err := connection.dial(ctx, bus.ReadWrite)
			if err != nil {
				return err
			}
			defer client.Close()

			if onlyOnce {
				if _, err := client.OnlyOnce(ctx, bus.On); err != nil {
					return err
				}
			}
			if reportBinds {
				if _, err := client.ReportReplierBinds(ctx, bus.On); err != nil {
					return err
				}
				if err := client.Bind(ctx, bus.ReplierBindEventName, false); err != nil {
					return err
				}
			}
			for _, name := range args {
				if err := client.Bind(ctx, name, replier); err != nil {
					return fmt.Errorf("binding %s: %w", name, err)
				}
			}

			output := dumper{out: env.stdout, color: env.color}
			for received := 0; count == 0 || received < count; {
				if _, err := client.Wait(ctx, bus.Readable, 0); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				message, err := client.ReadNextMsg(ctx)
				if errors.Is(err, bus.ErrNothingToRead) {
					continue
				}
				if err != nil {
					return err
				}
				received++
				output.dump(message)

				if message.WantsUsToReply() {
					reply, err := bus.NewReply(message, []byte(replyWith))
					if err != nil {
						return err
					}
					if _, err := client.Send(ctx, reply); err != nil {
						return fmt.Errorf("replying to %s: %w", message.ID, err)
					}
				}
			}
			return nil
		},
	}
}

func findReplierCommand(env environment) *cli.Command {
	var connection connectionFlags
	return &cli.Command{
		Name:    "find-replier",
		Summary: "Print the socket that answers requests for a name",
		Usage:   "kbus find-replier [flags] <name>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("find-replier", pflag.ContinueOnError)
			connection.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: kbus find-replier [flags] <name>")
			}
			client, err := connection.dial(ctx, bus.ReadOnly)
			if err != nil {
				return err
			}
			defer client.Close()

			replier, err := client.FindReplier(ctx, args[0])
			if err != nil {
				return err
			}
			if replier == 0 {
				fmt.Fprintf(env.stdout, "no replier for %s\n", args[0])
				return &cli.ExitError{Code: 1}
			}
			fmt.Fprintln(env.stdout, replier)
			return nil
		},
	}
}

func newDeviceCommand(env environment) *cli.Command {
	var connection connectionFlags
	return &cli.Command{
		Name:    "new-device",
		Summary: "Create a device",
		Usage:   "kbus new-device [flags] [number]",
		Description: "Create a device on the daemon and print its number. Without a\n" +
			"number the lowest unused one is taken.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("new-device", pflag.ContinueOnError)
			connection.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("usage: kbus new-device [flags] [number]")
			}
			client, err := busd.DialControl(ctx, connection.socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			var number uint32
			if len(args) == 1 {
				parsed, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid device number %q: %w", args[0], err)
				}
				number = uint32(parsed)
			} else if number, err = client.NextDevice(ctx); err != nil {
				return err
			}

			created, err := client.NewDevice(ctx, number)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.stdout, created)
			return nil
		},
	}
}
