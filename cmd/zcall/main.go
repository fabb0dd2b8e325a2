package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli"
	"github.com/zhiqiangxu/zcall"
)

func loadConfig(c *cli.Context) (cfg zcall.Config, err error) {
	if path := c.GlobalString("config"); path != "" {
		cfg, err = zcall.LoadConfig(path)
		if err != nil {
			return
		}
	}
	if addr := c.GlobalString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:8002"
	}
	if timeout := c.GlobalDuration("timeout"); c.GlobalIsSet("timeout") || cfg.Client.InvocationTimeout == 0 {
		cfg.Client.InvocationTimeout = timeout
	}
	return
}

func dial(c *cli.Context) (conn *zcall.Connection, err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return
	}
	return zcall.DialTCP(cfg.Addr, cfg.Client, nil)
}

func callCommand(c *cli.Context) (err error) {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: zcall call OPERATION [JSON-ARG...]", 2)
	}
	conn, err := dial(c)
	if err != nil {
		return
	}
	defer conn.Close(nil)

	args := make([]interface{}, 0, c.NArg()-1)
	for _, arg := range c.Args().Tail() {
		args = append(args, json.RawMessage(arg))
	}

	var result json.RawMessage
	err = zcall.Call(context.Background(), conn, c.Args().First(), &result, args...)
	if err != nil {
		return
	}
	fmt.Println(string(result))
	return
}

func rawCommand(c *cli.Context) (err error) {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: zcall raw OPERATION [HEX]", 2)
	}
	request, err := hex.DecodeString(c.Args().Get(1))
	if err != nil {
		return
	}
	conn, err := dial(c)
	if err != nil {
		return
	}
	defer conn.Close(nil)

	inv, err := zcall.NewInvocation(conn, c.Args().First())
	if err != nil {
		return
	}
	buf, _ := inv.Request()
	buf.Write(request)
	if err = inv.Invoke(context.Background()); err != nil {
		return
	}
	status, _ := inv.ReplyStatus()
	reply, _ := inv.Reply()
	fmt.Printf("%s %s\n", status, hex.EncodeToString(reply.Bytes()[1:]))
	return
}

func serveCommand(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return
	}

	mux := zcall.NewServeMux()
	registerDemo(mux)
	s, err := zcall.ListenTCP(cfg.Addr, cfg.Server)
	if err != nil {
		return
	}
	s.Serve(mux)
	fmt.Println("serving on", s.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	return s.Shutdown()
}

func main() {
	app := cli.NewApp()
	app.Name = "zcall"
	app.Usage = "invoke operations on a zcall server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Usage: "server address, overrides the config file",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "toml config file",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Value: 5 * time.Second,
			Usage: "invocation timeout",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:      "call",
			Usage:     "Invoke a json operation and print its result",
			ArgsUsage: "OPERATION [JSON-ARG...]",
			Action:    callCommand,
		},
		cli.Command{
			Name:      "raw",
			Usage:     "Invoke an operation with hex encoded request bytes and print the reply status and bytes",
			ArgsUsage: "OPERATION [HEX]",
			Action:    rawCommand,
		},
		cli.Command{
			Name:   "serve",
			Usage:  "Run a demo server exposing Arith.Add, Echo.Echo and the raw add/echo operations",
			Action: serveCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
