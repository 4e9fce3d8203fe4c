// Command redis-server exposes a bitkv engine over the Redis RESP wire
// protocol, so it can be driven with redis-cli or redis-benchmark. Only
// PING, SET, GET, DEL, and EXISTS are implemented.
//
// Protocol reference: https://redis.io/docs/reference/protocol-spec/
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mrkeg/bitkv"
)

func main() {
	var (
		dbPath = flag.String("path", "./redis-data", "path to data directory")
		addr   = flag.String("addr", ":6379", "RESP listen address")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Println("could not build logger:", err)
		return
	}
	defer log.Sync() //nolint:errcheck

	engine, err := bitkv.Open(*dbPath,
		bitkv.WithLogger(log),
		bitkv.WithRotationThreshold(10*1024*1024),
		bitkv.WithMergeEnabled(true),
	)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer engine.Close()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
	defer listener.Close()

	log.Info("resp server listening", zap.String("addr", *addr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Warn("accept error", zap.Error(err))
			continue
		}
		go handleConnection(conn, engine, log)
	}
}

func handleConnection(conn net.Conn, engine *bitkv.Engine, log *zap.Logger) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	defer writer.Flush() //nolint:errcheck

	for {
		cmd, err := parseRESP(reader)
		if err != nil {
			if err == io.EOF {
				return
			}
			log.Warn("parse error", zap.Error(err))
			writer.WriteString(writeError("ERR parse error")) //nolint:errcheck
			continue
		}

		response := executeCommand(engine, cmd)

		if _, err := writer.WriteString(response); err != nil {
			log.Warn("write error", zap.Error(err))
			return
		}
		if err := writer.Flush(); err != nil {
			log.Warn("flush error", zap.Error(err))
			return
		}
	}
}

// parseRESP parses a RESP array-of-bulk-strings command, e.g.
// *3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n -> ["SET","key","value"].
func parseRESP(reader *bufio.Reader) ([]string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, errors.New("expected array")
	}

	length, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid array length: %w", err)
	}

	args := make([]string, length)
	for i := 0; i < length; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if len(line) == 0 || line[0] != '$' {
			return nil, errors.New("expected bulk string")
		}

		strLen, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid string length: %w", err)
		}
		if strLen == -1 {
			args[i] = ""
			continue
		}

		data := make([]byte, strLen+2)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, err
		}
		args[i] = string(data[:strLen])
	}

	return args, nil
}

func executeCommand(engine *bitkv.Engine, args []string) string {
	if len(args) == 0 {
		return writeError("ERR empty command")
	}

	switch cmd := strings.ToUpper(args[0]); cmd {
	case "PING":
		return writeSimpleString("PONG")

	case "SET":
		if len(args) != 3 {
			return writeError("ERR wrong number of arguments for 'SET' command")
		}
		if err := engine.Insert([]byte(args[1]), []byte(args[2])); err != nil {
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		return writeSimpleString("OK")

	case "GET":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'GET' command")
		}
		value, found, err := engine.Get([]byte(args[1]))
		if err != nil {
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		if !found {
			return writeNull()
		}
		return writeBulkString(string(value))

	case "DEL":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'DEL' command")
		}
		_, found, err := engine.Get([]byte(args[1]))
		if err != nil {
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		if !found {
			return writeInteger(0)
		}
		if err := engine.Delete([]byte(args[1])); err != nil {
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		return writeInteger(1)

	case "EXISTS":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'EXISTS' command")
		}
		_, found, err := engine.Get([]byte(args[1]))
		if err != nil {
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		if found {
			return writeInteger(1)
		}
		return writeInteger(0)

	default:
		return writeError(fmt.Sprintf("ERR unknown command '%s'", cmd))
	}
}

func writeSimpleString(s string) string { return fmt.Sprintf("+%s\r\n", s) }
func writeBulkString(s string) string   { return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s) }
func writeInteger(i int) string         { return fmt.Sprintf(":%d\r\n", i) }
func writeNull() string                 { return "$-1\r\n" }
func writeError(msg string) string      { return fmt.Sprintf("-%s\r\n", msg) }
