package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/pascaldekloe/redis/v2"
)

var (
	addrFlag = flag.String("addr", "localhost:6379", "Redis node `address`.")
	authFlag = flag.Bool("auth", false, "Reads a password from the standard input.")

	rawFlag       = flag.Bool("raw", false, "Output values as is, instead of quoted strings.")
	delimitFlag   = flag.String("delimit", "\n", "The output `separator` between values.")
	terminateFlag = flag.String("terminate", "\n", "The output `suffix` on the last value.")
	nullFlag      = flag.String("null", "<null>", "The output `value` for key absence.")
)

func main() {
	flag.Parse()
	keys := flag.Args()
	if len(keys) == 0 {
		os.Stderr.WriteString(`NAME
	reget — resolve Redis content

SYNOPSIS
	reget [ options ] [ key ... ]

DESCRIPTION
	For each operand, reget prints the associated value according to
	the node.

	The following options are available:

`)
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := redis.Config{Endpoints: []redis.Endpoint{{Network: "tcp", Addr: *addrFlag}}}
	if *authFlag {
		password, _ := ioutil.ReadAll(os.Stdin)
		cfg.Password = password
	}

	client, err := redis.NewClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reget: connect:", err)
		os.Exit(4)
	}
	defer client.Close()

	print(client, keys)
}

func print(client *redis.Client, keys []string) {
	cmds := make([]redis.Command, len(keys))
	for i, key := range keys {
		cmds[i] = redis.NewCommand("GET").AddString(key)
	}

	replies, err := client.DoBatch(context.Background(), cmds)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reget: GET with", err)
		os.Exit(255)
	}

	w := os.Stdout
	for i, reply := range replies {
		switch {
		case reply.Err != nil:
			fmt.Fprintln(os.Stderr, "reget:", reply.Err)
			os.Exit(255)
		case reply.Frame.IsNull:
			w.WriteString(*nullFlag)
		case *rawFlag:
			w.Write(reply.Frame.Raw)
		default:
			w.WriteString(strconv.QuoteToGraphic(string(reply.Frame.Raw)))
		}

		if i < len(replies)-1 {
			w.WriteString(*delimitFlag)
		} else {
			w.WriteString(*terminateFlag)
		}
	}
}
