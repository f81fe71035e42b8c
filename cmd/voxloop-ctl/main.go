package main

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"voxloop/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: voxloop-ctl [--socket path] start|stop|status\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() != 1 {
		cli.Usage()
		os.Exit(2)
	}

	rep, err := ipc.SendCommand(*socket, cli.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "voxloop:", err)
		os.Exit(1)
	}
	fmt.Println(rep.Status)
}
