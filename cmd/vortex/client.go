package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func deployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <file.js | ->",
		Short: "Deploy a function from a file (or stdin with -)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source []byte
			var err error
			if args[0] == "-" {
				source, err = io.ReadAll(os.Stdin)
			} else {
				source, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}

			body, _ := json.Marshal(domain.DeployRequest{Source: string(source)})
			resp, err := http.Post(serverURL+"/functions", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("deploy: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			var out domain.DeployResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Println(out.FunctionID)
			return nil
		},
	}
	return cmd
}

func invokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <function-id>",
		Short: "Execute a deployed function and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(serverURL+"/functions/"+args[0]+"/execute", "application/json", nil)
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			var out domain.ExecuteResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			for _, ev := range out.Logs {
				fmt.Fprintf(os.Stderr, "%s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Message)
			}
			fmt.Printf("%s\n", out.Output)
			fmt.Fprintf(os.Stderr, "completed in %dms\n", out.ExecutionTimeMs)
			return nil
		},
	}
	return cmd
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <function-id>",
		Short: "Stream live log events for a function's in-flight execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL := strings.Replace(serverURL, "http", "ws", 1) +
				"/functions/" + args[0] + "/subscribe"

			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer conn.Close()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-interrupt
				conn.Close()
			}()

			for {
				_, frame, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						fmt.Fprintln(os.Stderr, "stream ended")
						return nil
					}
					return fmt.Errorf("stream: %w", err)
				}
				var ev domain.LogEvent
				if err := json.Unmarshal(frame, &ev); err != nil {
					continue
				}
				fmt.Printf("%s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Message)
			}
		},
	}
	return cmd
}

func apiError(resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if body.Detail != "" {
		return fmt.Errorf("%s: %s", body.Error, body.Detail)
	}
	return fmt.Errorf("%s", body.Error)
}
