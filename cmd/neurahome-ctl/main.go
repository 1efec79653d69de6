package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"neurahome/internal/ipc"
)

func main() {
	socket := cli.String("socket", ipc.SocketPath, "Control socket path")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: neurahome-ctl [--socket path] [%s|%s|%s]\n",
			ipc.CmdStatus, ipc.CmdStop, ipc.CmdReconnect)
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdStatus
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	r, err := ipc.SendCommand(*socket, cmd)
	if err != nil {
		fmt.Println("neurahome-daemon not running:", err)
		os.Exit(1)
	}

	if r.Message != "" {
		fmt.Println(r.Message)
	}
	if len(r.Data) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, r.Data, "", "  "); err != nil {
			out.Write(r.Data)
		}
		fmt.Println(out.String())
	}
	if !r.OK {
		os.Exit(1)
	}
}
