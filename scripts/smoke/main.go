package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type loginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := "http://localhost:8080"

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"id": "smoke_user", "name": "Smoke"})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	// 2. Create a room
	roomBody, _ := json.Marshal(map[string]any{
		"participants": []string{"smoke_user", "smoke_peer"},
		"type":         "group",
		"name":         "smoke room",
	})
	req, _ := http.NewRequest("POST", apiAddr+"/rooms", bytes.NewBuffer(roomBody))
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)
	req.Header.Add("Content-Type", "application/json")

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("Create room failed:", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Create room [%d]: %s", resp.StatusCode, string(body))

	// 3. List rooms
	req, _ = http.NewRequest("GET", apiAddr+"/rooms/smoke_user", nil)
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("List rooms failed:", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Rooms [%d]: %s", resp.StatusCode, string(body))

	// 4. Health
	resp, err = http.Get(apiAddr + "/health")
	if err != nil {
		log.Fatal("Health failed:", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Health [%d]: %s", resp.StatusCode, string(body))
}
