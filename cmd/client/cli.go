package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odit-bit/relay/chat"
)

func main() {
	var (
		addr string
		nick string
		list bool
	)
	flag.StringVar(&addr, "addr", "localhost:8989", "relay address")
	flag.StringVar(&nick, "nick", "", "display name")
	flag.BoolVar(&list, "list", false, "print the recent messages and exit")
	flag.Parse()

	if list {
		listMessages(addr)
		return
	}
	connect(addr, nick)
}

func listMessages(addr string) {
	res, err := http.DefaultClient.Get("http://" + addr + "/messages")
	if err != nil {
		log.Printf("error: %v \n", err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		fmt.Println(string(b))
		return
	}

	messages := []chat.Message{}
	if err := json.NewDecoder(res.Body).Decode(&messages); err != nil {
		log.Println(err)
		return
	}
	for _, msg := range messages {
		printMessage(msg)
	}
}

func connect(addr, nick string) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Printf("failed dial server: %v", err)
		return
	}
	defer conn.Close()

	// event LOOP here !!!
	HandleMessage(nick, conn)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoing struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
	Text string `json:"text"`
}

func HandleMessage(nick string, conn *websocket.Conn) {
	//read loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Println("server closed connection")
				} else {
					log.Println("error:", err)
				}
				return
			}
			printFrame(b)
		}
	}()

	//write loop
	out := make(chan outgoing)
	go func() {
		for {
			select {
			case <-done:
				log.Println("connection closed")
				return
			case msg, ok := <-out:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				b, err := json.Marshal(msg)
				if err != nil {
					log.Printf("error: %v", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					log.Println("error:", err)
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		select {
		case out <- outgoing{Type: chat.FrameMessage, Nick: nick, Text: scanner.Text()}:
		case <-done:
			return
		}
	}
	close(out)

	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func printFrame(b []byte) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		log.Printf("error: %v", err)
		return
	}

	switch f.Type {
	case chat.FrameHistory:
		var msgs []chat.Message
		if err := json.Unmarshal(f.Data, &msgs); err != nil {
			log.Printf("error: %v", err)
			return
		}
		for _, msg := range msgs {
			printMessage(msg)
		}
		fmt.Printf("-- %d messages of history --\n", len(msgs))

	case chat.FrameMessage:
		var msg chat.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			log.Printf("error: %v", err)
			return
		}
		printMessage(msg)

	case chat.FrameError:
		fmt.Printf("!! %s\n", string(f.Data))
	}
}

func printMessage(msg chat.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.TS.Local().Format("15:04"), msg.Nick, msg.Text)
}
