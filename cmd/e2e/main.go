package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"time"
)

const baseURL = "http://localhost:8080"

var client *http.Client

// Walks the whole API surface against a running server. Needs the quote
// provider reachable, so this is a smoke test rather than CI material.
func main() {
	jar, _ := cookiejar.New(nil)
	client = &http.Client{Jar: jar}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	checkEndpoint("GET", "/health", nil, 200)

	username := fmt.Sprintf("e2e-user-%d", time.Now().UnixNano())

	// Availability flips once the name is registered.
	checkEndpoint("GET", "/api/check?username="+username, nil, 200)

	checkEndpoint("POST", "/api/register", map[string]interface{}{
		"username":     username,
		"password":     "e2e-password",
		"confirmation": "e2e-password",
	}, 201)
	checkEndpoint("GET", "/api/check?username="+username, nil, 200)

	checkEndpoint("GET", "/api/portfolio", nil, 200)
	checkEndpoint("GET", "/api/quote/AAPL", nil, 200)

	checkEndpoint("POST", "/api/buy", map[string]interface{}{"symbol": "AAPL", "shares": 2}, 200)
	checkEndpoint("GET", "/api/portfolio", nil, 200)

	checkEndpoint("POST", "/api/sell", map[string]interface{}{"symbol": "AAPL", "shares": 1}, 200)

	// Selling more than owned must be rejected without touching state.
	checkEndpoint("POST", "/api/sell", map[string]interface{}{"symbol": "AAPL", "shares": 100}, 422)

	checkEndpoint("GET", "/api/history", nil, 200)

	checkEndpoint("POST", "/api/logout", nil, 200)
	checkEndpoint("GET", "/api/portfolio", nil, 401)

	fmt.Println("ALL TESTS PASSED")
}

func checkEndpoint(method, path string, body interface{}, expectedStatus int) {
	fmt.Printf("Testing %s %s...\n", method, path)
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, baseURL+path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		log.Fatalf("Expected status %d, got %d. Body: %s", expectedStatus, resp.StatusCode, string(respBody))
	}
	fmt.Printf("Response: %s\n", string(respBody))
}
