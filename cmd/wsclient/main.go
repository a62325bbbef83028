// Interactive test client for the gateway. Connects to the WebSocket
// endpoint and turns console commands into session protocol messages:
//
//	ping            send a ping, expect a pong
//	text <message>  run a text turn
//	audio <file>    upload an audio file as a base64 audio turn
//	quit            close the connection and exit
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8765/ws", "gateway WebSocket endpoint")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				fmt.Println("connection closed:", err)
				return
			}

			var pretty map[string]interface{}
			if err := json.Unmarshal(message, &pretty); err != nil {
				fmt.Printf("<< %s\n", message)
				continue
			}
			formatted, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("<< %s\n", formatted)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("connected, commands: ping | text <message> | audio <file> | quit")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		command, rest, _ := strings.Cut(line, " ")
		var payload interface{}

		switch command {
		case "ping":
			payload = map[string]string{"type": "ping"}
		case "text":
			payload = map[string]string{"type": "text", "message": rest}
		case "audio":
			data, err := os.ReadFile(rest)
			if err != nil {
				fmt.Println("read audio file:", err)
				continue
			}
			payload = map[string]string{
				"type":  "audio",
				"audio": base64.StdEncoding.EncodeToString(data),
			}
		case "quit":
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			<-done
			return
		default:
			fmt.Println("unknown command:", command)
			continue
		}

		if err := conn.WriteJSON(payload); err != nil {
			log.Fatalf("send: %v", err)
		}
	}
}
