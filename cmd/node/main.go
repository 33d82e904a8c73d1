// Command node runs one member of the distributed SQL middleware
// cluster: it loads the static topology, wires every component via
// internal/node, and serves directly-connected clients over
// internal/clientproto until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ddbmw/configs"
	"ddbmw/internal/clientproto"
	"ddbmw/internal/node"
)

var (
	selfID       int
	topologyPath string
	walDir       string
	clientAddr   string
	debug        bool
)

func init() {
	flag.IntVar(&selfID, "id", 0, "this node's node_id in the topology file")
	flag.StringVar(&topologyPath, "topology", "topology.properties", "path to the static topology file")
	flag.StringVar(&walDir, "wal-dir", "./wal", "directory for this node's transactions_log WAL")
	flag.StringVar(&clientAddr, "client-addr", "127.0.0.1:6000", "address directly-connected clients dial")
	flag.BoolVar(&debug, "debug", false, "enable verbose transport/election/heartbeat logging")
}

func main() {
	flag.Parse()
	configs.ShowTestInfo = debug
	configs.ShowDebugInfo = debug

	topo, err := configs.LoadTopology(topologyPath, selfID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: loading topology: %v\n", err)
		os.Exit(1)
	}

	n, err := node.Start(context.Background(), topo, walDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: starting: %v\n", err)
		os.Exit(1)
	}
	defer n.Stop()

	srv, err := clientproto.Listen(clientAddr, func(ctx context.Context, statement string) interface{} {
		return n.Submit(ctx, statement)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: binding client listener: %v\n", err)
		os.Exit(1)
	}
	go srv.Run()
	defer srv.Close()

	configs.TPrintf("node %d: serving clients on %s", selfID, clientAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
