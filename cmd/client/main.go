// Command client is a bare-bones RPC client for the server command,
// mirroring the teacher's own client in shape.
package main

import (
	"fmt"
	"log"
	"net/rpc"
	"os"

	"github.com/mrkeg/bitkv/remote"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  client get <key>\n")
	fmt.Fprintf(os.Stderr, "  client set <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  client rm <key>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	client, err := rpc.Dial("tcp", "localhost:1729")
	if err != nil {
		log.Fatalf("failed to dial rpc: %v\n", err)
	}
	defer client.Close()

	switch action := os.Args[1]; action {
	case "get":
		if len(os.Args) != 3 {
			usage()
		}
		key := os.Args[2]

		var reply remote.GetReply
		if err := client.Call("DB.Get", &remote.GetArgs{Key: []byte(key)}, &reply); err != nil {
			log.Fatalf("failed to get the key: %v\n", err)
		}
		if !reply.Found {
			fmt.Println("(nil)")
			return
		}
		fmt.Println(string(reply.Value))

	case "set":
		if len(os.Args) != 4 {
			usage()
		}
		key, val := os.Args[2], os.Args[3]

		var setReply struct{}
		if err := client.Call("DB.Set", &remote.SetArgs{Key: []byte(key), Value: []byte(val)}, &setReply); err != nil {
			log.Fatalf("failed to set the key: %v\n", err)
		}
		fmt.Println("done")

	case "rm":
		if len(os.Args) != 3 {
			usage()
		}
		key := os.Args[2]

		var delReply struct{}
		if err := client.Call("DB.Delete", &remote.DeleteArgs{Key: []byte(key)}, &delReply); err != nil {
			log.Fatalf("failed to delete the key: %v\n", err)
		}
		fmt.Println("done")

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}
