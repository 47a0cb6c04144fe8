package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type loginResponse struct {
	Token string `json:"token"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func login(apiAddr, userID, name string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"id": userID, "name": name})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func send(c *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.WriteJSON(frame{Event: event, Data: raw})
}

func printFrame(f frame) {
	switch f.Event {
	case "new-message", "message-sent":
		var msg struct {
			Sender string `json:"sender_id"`
			Body   string `json:"body"`
		}
		json.Unmarshal(f.Data, &msg)
		fmt.Printf("\r%s: %s\n> ", msg.Sender, msg.Body)
	case "typing-start":
		var t struct {
			IdentityID string `json:"identity_id"`
		}
		json.Unmarshal(f.Data, &t)
		fmt.Printf("\r%s is typing...\n> ", t.IdentityID)
	case "typing-stop":
		// quiet; the prompt redraw on the next event is enough
	case "error":
		fmt.Printf("\r[error] %s\n> ", string(f.Data))
	default:
		fmt.Printf("\r[%s] %s\n> ", f.Event, string(f.Data))
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "server address")
	userID := flag.String("user", "user1", "identity id")
	name := flag.String("name", "", "display name")
	roomID := flag.String("room", "", "room id to join on connect")
	flag.Parse()

	apiAddr := "http://" + *serverAddr

	log.Printf("Logging in as %s...", *userID)
	token, err := login(apiAddr, *userID, *name)
	if err != nil {
		log.Fatal("Login failed:", err)
	}
	log.Printf("Login successful. Token: %s...", token[:10])

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var f frame
			if err := c.ReadJSON(&f); err != nil {
				log.Println("read:", err)
				return
			}
			printFrame(f)
		}
	}()

	if *roomID != "" {
		if err := send(c, "join-room", map[string]string{"room_id": *roomID}); err != nil {
			log.Fatal("join:", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	currentRoom := *roomID

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			var err error
			switch {
			case text == "/quit":
				close(interrupt)
				return
			case strings.HasPrefix(text, "/join "):
				currentRoom = strings.TrimSpace(strings.TrimPrefix(text, "/join "))
				err = send(c, "join-room", map[string]string{"room_id": currentRoom})
			case text == "/typing":
				err = send(c, "typing-start", map[string]string{"room_id": currentRoom})
			case currentRoom == "":
				fmt.Print("join a room first with /join <id>\n> ")
				continue
			default:
				err = send(c, "send-message", map[string]string{
					"room_id": currentRoom,
					"body":    text,
				})
			}
			if err != nil {
				log.Println("write:", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
