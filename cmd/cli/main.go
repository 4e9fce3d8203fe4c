// Command cli is an interactive shell over a single bitkv engine opened
// at a user-supplied path, in the teacher's flag-parsed, single-binary
// style extended to a read-eval-print loop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mrkeg/bitkv"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: cli -path <data-dir> [-verify-checksums] [-rotation-threshold N]\n")
	os.Exit(1)
}

func main() {
	var (
		dbPath          = flag.String("path", "", "path to data directory")
		verifyChecksums = flag.Bool("verify-checksums", false, "verify CRC32C on every get")
		rotationBytes   = flag.Int64("rotation-threshold", 1<<20, "segment rotation threshold in bytes")
	)
	flag.Parse()

	if *dbPath == "" {
		usage()
	}

	engine, err := bitkv.Open(*dbPath,
		bitkv.WithVerifyChecksums(*verifyChecksums),
		bitkv.WithRotationThreshold(*rotationBytes),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	repl(engine)
}

func repl(engine *bitkv.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "set":
			if len(fields) != 3 {
				fmt.Println("usage: set <key> <value>")
				break
			}
			if err := engine.Insert([]byte(fields[1]), []byte(fields[2])); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				break
			}
			fmt.Println("OK")

		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <key>")
				break
			}
			value, found, err := engine.Get([]byte(fields[1]))
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				break
			}
			if !found {
				fmt.Println("(nil)")
				break
			}
			fmt.Println(string(value))

		case "rm":
			if len(fields) != 2 {
				fmt.Println("usage: rm <key>")
				break
			}
			if err := engine.Delete([]byte(fields[1])); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				break
			}
			fmt.Println("OK")

		case "help":
			printHelp()

		case "clear":
			fmt.Print("\033[H\033[2J")

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command %q; try 'help'\n", fields[0])
		}

		fmt.Print("> ")
	}
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  set <key> <value>   store a key/value pair")
	fmt.Println("  get <key>           print a key's value, or (nil)")
	fmt.Println("  rm <key>            delete a key")
	fmt.Println("  clear               clear the screen")
	fmt.Println("  help                show this message")
	fmt.Println("  quit                exit")
}
