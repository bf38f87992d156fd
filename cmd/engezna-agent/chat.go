package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the chat command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	chatMessage    string
	chatGatewayURL string
	chatAPIKey     string
	chatLocale     string
	chatCity       string
	chatStream     bool
	chatTimeout    int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a one-shot message to a running agent server",
	Long: `Send a customer message to the Engezna agent gateway for processing.

Examples:
  engezna-agent chat -m "عايز بيتزا من أي مطعم قريب"
  engezna-agent chat -m "where is my order?" --locale en --stream

Exit codes:
  0  success
  1  processing failure
  2  unauthorized or rate limited
  3  gateway unavailable`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "message to send (required)")
	chatCmd.Flags().StringVar(&chatGatewayURL, "gateway-url", "http://localhost:8080", "gateway HTTP API URL")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "API key for gateway authentication (or ENGEZNA_API_KEY env)")
	chatCmd.Flags().StringVar(&chatLocale, "locale", "", "reply language: ar (default) or en")
	chatCmd.Flags().StringVar(&chatCity, "city", "", "customer city for merchant filtering")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream response via SSE")
	chatCmd.Flags().IntVar(&chatTimeout, "timeout", 180, "timeout in seconds")

	_ = chatCmd.MarkFlagRequired("message")
}

func runChat(_ *cobra.Command, _ []string) error {
	if chatMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	apiKey := goutils.Env("ENGEZNA_API_KEY", chatAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set ENGEZNA_API_KEY)")
		os.Exit(ExitDenied)
	}

	gatewayURL := goutils.Env("ENGEZNA_GATEWAY_URL", chatGatewayURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(chatTimeout)*time.Second)
	defer cancel()

	if chatStream {
		return runChatSSE(ctx, gatewayURL, apiKey)
	}
	return runChatHTTP(ctx, gatewayURL, apiKey)
}

func chatRequestBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"message": chatMessage,
		"locale":  chatLocale,
		"city":    chatCity,
	})
	return body
}

// runChatHTTP sends a synchronous message and prints the response.
func runChatHTTP(ctx context.Context, gatewayURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", gatewayURL+"/v1/chat", bytes.NewReader(chatRequestBody()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach gateway at %s: %v\n", gatewayURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			Message       string `json:"message"`
			Done          bool   `json:"done"`
			CorrelationID string `json:"correlation_id"`
			TokensUsed    int    `json:"tokens_used"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Println(result.Message)
		fmt.Fprintf(os.Stderr, "\n[correlation_id=%s done=%t tokens=%d]\n",
			result.CorrelationID, result.Done, result.TokensUsed)
		os.Exit(ExitSuccess)

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitDenied)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: gateway unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}

// runChatSSE sends a streaming message and prints events as they arrive.
func runChatSSE(ctx context.Context, gatewayURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", gatewayURL+"/v1/chat/stream", bytes.NewReader(chatRequestBody()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach gateway at %s: %v\n", gatewayURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(ExitFailure)
	}

	scanner := bufio.NewScanner(resp.Body)
	exitCode := ExitSuccess

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			Tool    string `json:"tool"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "text":
			fmt.Print(event.Content)
		case "tool":
			fmt.Fprintf(os.Stderr, "[tool: %s]\n", event.Tool)
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s\n", event.Content)
			exitCode = ExitFailure
		case "done":
			fmt.Println()
			os.Exit(exitCode)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: stream interrupted: %v\n", err)
		os.Exit(ExitFailure)
	}

	return nil
}
